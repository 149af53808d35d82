package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/supervisor"
	"github.com/kalambet/interviewd/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interview session in this terminal",
	Long: `Run an interview session in this terminal.

Type answers on a single line. /hint asks for a hint, /clarify <text> asks
about the current question and /quit leaves the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPayload(cmd)
		if err != nil {
			return err
		}
		return runConsole(p)
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("payload", "", "JSON session payload file (overrides the other flags)")
	f.String("kind", string(session.KindMixed), "interview kind: behavioral, technical, system_design, coding, mixed, resume_based")
	f.String("role", "", "target role, e.g. \"Backend Engineer\"")
	f.String("level", "", "experience level: entry, mid, senior, staff")
	f.Int("duration", 0, "planned duration in minutes")
	f.Int("min-questions", 0, "minimum number of questions")
	f.Int("max-questions", 0, "maximum number of questions")
	f.StringSlice("stack", nil, "tech stack, comma separated")
	f.StringSlice("focus", nil, "focus areas, comma separated")
	f.String("name", "", "candidate name")
	f.String("resume", "", "id of an uploaded resume to personalise questions")
}

// buildPayload reads --payload when given, otherwise assembles a payload
// from flags with a fresh session id.
func buildPayload(cmd *cobra.Command) (supervisor.Payload, error) {
	f := cmd.Flags()
	if path, _ := f.GetString("payload"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return supervisor.Payload{}, fmt.Errorf("reading payload: %w", err)
		}
		return supervisor.Decode(data)
	}

	role, _ := f.GetString("role")
	if strings.TrimSpace(role) == "" {
		return supervisor.Payload{}, fmt.Errorf("--role is required (or pass --payload)")
	}
	kind, _ := f.GetString("kind")
	level, _ := f.GetString("level")
	duration, _ := f.GetInt("duration")
	minQ, _ := f.GetInt("min-questions")
	maxQ, _ := f.GetInt("max-questions")
	stack, _ := f.GetStringSlice("stack")
	focus, _ := f.GetStringSlice("focus")
	name, _ := f.GetString("name")
	resumeID, _ := f.GetString("resume")

	return supervisor.Payload{
		SessionID: uuid.NewString(),
		InterviewConfig: session.Config{
			Kind:            session.Kind(kind),
			TargetRole:      role,
			ExperienceLevel: level,
			DurationMinutes: duration,
			Mode:            session.ModeText,
			TechStack:       stack,
			FocusAreas:      focus,
			MinQuestions:    minQ,
			MaxQuestions:    maxQ,
		},
		CandidateProfile: session.CandidateProfile{
			Name:     name,
			ResumeID: resumeID,
		},
	}, nil
}

func runConsole(p supervisor.Payload) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Logs go to stderr so they do not interleave with the conversation.
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		cfg.Log.Level = "warn"
	}
	setupLogging(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.Close(shutdownCtx)
	}()

	console := transport.NewConsole(os.Stdin, os.Stdout)
	o, err := rt.sup.Launch(p, console)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	console.Start(ctx)
	printStep("Session %s started (%s, %s)", shorten(o.ID(), 8), o.Config().Kind, o.Config().TargetRole)

	select {
	case <-o.Done():
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		printWarning("interrupted, session will be marked incomplete")
		return nil
	}

	if c, ok := o.Conclusion(); ok {
		printSuccess("Interview complete: %d questions, %d answered, %.1f minutes",
			c.QuestionsAsked, c.ResponsesReceived, c.DurationMinutes)
		return nil
	}
	printWarning("session ended before conclusion (state %s)", o.State())
	return nil
}
