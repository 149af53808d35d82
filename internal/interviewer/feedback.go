package interviewer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/session"
)

const finalSystemPrompt = `You are an interview coach writing the closing feedback for a candidate. You will be given each question, the candidate's answer, and its score. Write a short, encouraging, honest summary addressed to the candidate, plus their main strengths and the most important improvements. Your output must be ONLY a single JSON object: {"summary": "<text>", "strengths": ["..."], "improvements": ["..."]}`

const maxTranscriptAnswer = 400

// Synthesizer writes conversational feedback. Per-answer feedback is always
// local; the final report is aggregated locally and, with a model
// configured, gets a written summary on top.
type Synthesizer struct {
	chat   llm.Chatter
	model  string
	logger *slog.Logger
}

// NewSynthesizer creates a Synthesizer. chat may be nil.
func NewSynthesizer(chat llm.Chatter, model string) *Synthesizer {
	return &Synthesizer{chat: chat, model: model, logger: slog.Default()}
}

// ForResponse turns an evaluation into a short spoken-style reply. Early
// answers get a gentler tone.
func (s *Synthesizer) ForResponse(_ context.Context, eval session.EvaluationResult, isEarly bool) (string, error) {
	strength := firstOr(eval.Strengths, "")
	weakness := firstOr(eval.Suggestions, firstOr(eval.Weaknesses, ""))

	var sb strings.Builder
	switch {
	case eval.Score >= 80 && isEarly:
		sb.WriteString("That's a strong start.")
	case eval.Score >= 80:
		sb.WriteString("Great answer.")
	case eval.Score >= 60 && isEarly:
		sb.WriteString("Thanks, that's a good answer.")
	case eval.Score >= 60:
		sb.WriteString("Good.")
	case isEarly:
		sb.WriteString("Thanks for walking me through that.")
	default:
		sb.WriteString("Okay, thanks.")
	}
	if strength != "" {
		fmt.Fprintf(&sb, " %s.", sentence(strength))
	}
	if weakness != "" && eval.Score < 80 {
		if isEarly {
			fmt.Fprintf(&sb, " Next time it might help to %s.", lowerFirst(trimDot(weakness)))
		} else {
			fmt.Fprintf(&sb, " One thing to tighten: %s.", lowerFirst(trimDot(weakness)))
		}
	}
	return sb.String(), nil
}

// Final builds the closing report. A model failure only costs the written
// summary; it is never returned as an error.
func (s *Synthesizer) Final(ctx context.Context, qs []session.QuestionRecord, rs []session.ResponseRecord, cfg session.Config, durationMinutes float64) (session.FinalFeedback, error) {
	fb := session.Aggregate(qs, rs, durationMinutes)
	if s.chat == nil || len(rs) == 0 {
		return fb, nil
	}

	raw, err := s.chat.Chat(ctx, s.model, []llm.Message{
		{Role: "system", Content: finalSystemPrompt},
		{Role: "user", Content: transcript(qs, rs, cfg, fb)},
	}, &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"summary":      {Type: "string"},
			"strengths":    {Type: "array"},
			"improvements": {Type: "array"},
		},
		Required: []string{"summary", "strengths", "improvements"},
	})
	if err != nil {
		s.logger.Warn("final summary generation failed, using aggregate", "error", err)
		return fb, nil
	}

	var out struct {
		Summary      string   `json:"summary"`
		Strengths    []string `json:"strengths"`
		Improvements []string `json:"improvements"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		s.logger.Warn("final summary unparseable, using aggregate", "error", err)
		return fb, nil
	}
	if strings.TrimSpace(out.Summary) != "" {
		fb.Summary = strings.TrimSpace(out.Summary)
	}
	if len(out.Strengths) > 0 {
		fb.Strengths = capList(out.Strengths, 5)
	}
	if len(out.Improvements) > 0 {
		fb.Improvements = capList(out.Improvements, 5)
	}
	return fb, nil
}

func transcript(qs []session.QuestionRecord, rs []session.ResponseRecord, cfg session.Config, fb session.FinalFeedback) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Interview: %s for %s (%s level)\n", cfg.Kind, cfg.TargetRole, cfg.ExperienceLevel)
	fmt.Fprintf(&sb, "Average score: %.1f\n", fb.OverallRating)
	for _, r := range rs {
		if r.QuestionIndex < 0 || r.QuestionIndex >= len(qs) {
			continue
		}
		fmt.Fprintf(&sb, "\nQ%d (%s): %s\n", r.QuestionIndex+1, r.Category, qs[r.QuestionIndex].Text)
		fmt.Fprintf(&sb, "A: %s\n", truncate(r.Text, maxTranscriptAnswer))
		if r.Evaluation != nil {
			fmt.Fprintf(&sb, "Score: %.0f\n", r.Evaluation.Score)
		}
	}
	return sb.String()
}

func firstOr(items []string, def string) string {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			return it
		}
	}
	return def
}

func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func trimDot(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".")
}

func sentence(s string) string {
	s = trimDot(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
