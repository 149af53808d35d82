package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/interviewd/internal/config"
)

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect interview sessions on a running server",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		rows, err := client.listSessions(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, r := range rows {
			fmt.Println(formatSessionRow(r))
		}
		return nil
	},
}

func formatSessionRow(r sessionRow) string {
	status := statusColor(r.Status)
	if r.Live {
		status = colorize(colorGreen, "live")
	}
	state := r.State
	if state == "" {
		state = "-"
	}
	return fmt.Sprintf("%s  %s  %-10s %-12s %-13s %s",
		colorize(colorCyan, shorten(r.ID, 12)),
		r.CreatedAt.Format("2006-01-02 15:04"),
		status,
		state,
		r.Kind,
		r.TargetRole,
	)
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with its latest snapshot and feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		detail, err := client.session(cmd.Context(), args[0])
		if isNotFound(err) {
			return fmt.Errorf("no session with id %s", args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(detail)
	},
}

var sessionsConcludeCmd = &cobra.Command{
	Use:   "conclude <id>",
	Short: "End a live session and print its final feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		c, err := client.concludeSession(cmd.Context(), args[0])
		if isNotFound(err) {
			return fmt.Errorf("session %s is not live on this server", args[0])
		}
		if err != nil {
			return err
		}
		printSuccess("Concluded %s (%s)", args[0], c.Reason)
		printStatus("Rating", "%.1f (%s)", c.Feedback.OverallRating, gradeColor(c.Feedback.Grade))
		printStatus("Questions", "%d asked, %d answered", c.QuestionsAsked, c.ResponsesReceived)
		if c.Feedback.Summary != "" {
			fmt.Println(c.Feedback.Summary)
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsListCmd.Flags().Int("offset", 0, "number of sessions to skip")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsConcludeCmd)
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Upload and inspect candidate resumes",
}

var resumeUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF or text resume for digesting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := resumeUploadBody(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		result, err := client.uploadResume(cmd.Context(), req)
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s as %s (%s)", filepath.Base(args[0]), result.ID, result.Status)
		fmt.Printf("Use it with: interviewd run --resume %s --role <role>\n", result.ID)
		return nil
	},
}

// resumeUploadBody base64-encodes the file so binary PDFs survive JSON.
func resumeUploadBody(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return map[string]string{
		"filename": filepath.Base(path),
		"content":  base64.StdEncoding.EncodeToString(data),
	}, nil
}

var resumeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a resume's digest status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		r, err := client.resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printStatus("Resume", "%s (%s)", r.ID, r.Filename)
		printStatus("Status", "%s", r.Status)
		if r.Error != "" {
			printStatus("Error", "%s", r.Error)
		}
		if len(r.Skills) > 0 {
			printStatus("Skills", "%s", strings.Join(r.Skills, ", "))
		}
		if r.Digest != "" {
			fmt.Println(r.Digest)
		}
		return nil
	},
}

func init() {
	resumeCmd.AddCommand(resumeUploadCmd)
	resumeCmd.AddCommand(resumeShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List keys accepted by config set",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.ValidKeys() {
			fmt.Println(k)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
