package interviewer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/session"
)

const questionSystemPrompt = `You are an experienced interviewer. You will be given the next planned interview question and some context about the candidate. Rewrite the question so it fits this candidate, for example by referring to a project from their background. Keep the same topic and difficulty. Never include hints or the answer. Your output must be ONLY a single JSON object: {"question": "<text>"}`

const maxAnswerExcerpt = 600

// QuestionSource serves a fixed plan drawn from the bank. With a model
// configured it tailors each planned question to the candidate and falls
// back to the planned wording on any failure.
type QuestionSource struct {
	plan   []session.Question
	cfg    session.Config
	chat   llm.Chatter
	model  string
	logger *slog.Logger
}

// NewQuestionSource plans questions for cfg. chat may be nil.
func NewQuestionSource(bank *Bank, cfg session.Config, chat llm.Chatter, model string) *QuestionSource {
	return &QuestionSource{
		plan:   bank.Plan(cfg),
		cfg:    cfg,
		chat:   chat,
		model:  model,
		logger: slog.Default(),
	}
}

// TotalAvailable is the size of the plan.
func (s *QuestionSource) TotalAvailable() int { return len(s.plan) }

// Next returns the question at index, or nil once the plan is exhausted.
func (s *QuestionSource) Next(ctx context.Context, index int, history []session.ResponseRecord, profile session.CandidateProfile) (*session.Question, error) {
	if index < 0 || index >= len(s.plan) {
		return nil, nil
	}
	q := s.plan[index]
	if s.chat == nil || (profile.ResumeDigest == "" && len(profile.Skills) == 0 && len(history) == 0) {
		return &q, nil
	}

	raw, err := s.chat.Chat(ctx, s.model, s.personalizePrompt(q, history, profile), &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"question": {Type: "string", Description: "The tailored interview question"},
		},
		Required: []string{"question"},
	})
	if err != nil {
		s.logger.Warn("question personalisation failed, using planned wording", "index", index, "error", err)
		return &q, nil
	}
	var out struct {
		Question string `json:"question"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil || strings.TrimSpace(out.Question) == "" {
		s.logger.Debug("question personalisation returned nothing usable", "response", raw)
		return &q, nil
	}
	q.Text = strings.TrimSpace(out.Question)
	return &q, nil
}

func (s *QuestionSource) personalizePrompt(q session.Question, history []session.ResponseRecord, profile session.CandidateProfile) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s (%s level)\n", s.cfg.TargetRole, s.cfg.ExperienceLevel)
	if len(s.cfg.TechStack) > 0 {
		fmt.Fprintf(&sb, "Tech stack: %s\n", strings.Join(s.cfg.TechStack, ", "))
	}
	if len(profile.Skills) > 0 {
		fmt.Fprintf(&sb, "Candidate skills: %s\n", strings.Join(profile.Skills, ", "))
	}
	if profile.ResumeDigest != "" {
		fmt.Fprintf(&sb, "\n[Resume]\n%s\n", profile.ResumeDigest)
	}
	if n := len(history); n > 0 {
		fmt.Fprintf(&sb, "\n[Previous answer]\n%s\n", truncate(history[n-1].Text, maxAnswerExcerpt))
	}
	fmt.Fprintf(&sb, "\n[Planned question, %s, %s]\n%s", q.Category, q.Difficulty, q.Text)

	return []llm.Message{
		{Role: "system", Content: questionSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
