package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Status lines go to stderr so stdout stays pipeable.
func printLine(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printLine(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printLine(colorYellow, "!", format, args...) }
func printStep(format string, args ...any)    { printLine(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor colours a persisted session status.
func statusColor(status string) string {
	switch status {
	case "completed":
		return colorize(colorGreen, status)
	case "incomplete":
		return colorize(colorYellow, status)
	case "error":
		return colorize(colorRed, status)
	default:
		return status
	}
}

// formatCounts renders per-status session counts as "3 recorded (completed 2, error 1)".
func formatCounts(counts map[string]int) string {
	total := 0
	parts := make([]string, 0, len(counts))
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		total += counts[status]
		parts = append(parts, fmt.Sprintf("%s %d", statusColor(status), counts[status]))
	}
	if len(parts) == 0 {
		return "0 recorded"
	}
	return fmt.Sprintf("%d recorded (%s)", total, strings.Join(parts, ", "))
}

// gradeColor colours a letter grade: A and B green, C yellow, below red.
func gradeColor(grade string) string {
	switch strings.ToUpper(strings.TrimSpace(grade)) {
	case "A", "B":
		return colorize(colorGreen, grade)
	case "C":
		return colorize(colorYellow, grade)
	case "":
		return "-"
	default:
		return colorize(colorRed, grade)
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
