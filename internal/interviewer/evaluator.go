package interviewer

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/session"
)

const evaluationSystemPrompt = `You are a fair, experienced technical interviewer scoring a candidate's answer. Score from 0 to 100 where 50 is an acceptable answer for the stated experience level and 85+ is excellent. Judge structure, correctness, depth, and use of concrete examples. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.`

// Evaluator scores answers with a model when one is configured and with a
// local heuristic otherwise.
type Evaluator struct {
	chat  llm.Chatter
	model string
}

// NewEvaluator creates an Evaluator. chat may be nil.
func NewEvaluator(chat llm.Chatter, model string) *Evaluator {
	return &Evaluator{chat: chat, model: model}
}

type evaluationJSON struct {
	Score            float64  `json:"score"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	SpecificFeedback string   `json:"specific_feedback"`
	Suggestions      []string `json:"suggestions"`
}

// Evaluate scores response against q. Model failures are returned as errors;
// the caller decides how to recover.
func (e *Evaluator) Evaluate(ctx context.Context, q session.QuestionRecord, response, category string, ec session.EvaluationContext) (session.EvaluationResult, error) {
	if e.chat == nil {
		return heuristicEvaluation(response, category), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s (%s level)\n", ec.TargetRole, ec.ExperienceLevel)
	fmt.Fprintf(&sb, "Answers so far: %d\n", ec.ResponsesSoFar)
	fmt.Fprintf(&sb, "\n[Question, %s]\n%s\n", category, q.Text)
	fmt.Fprintf(&sb, "\n[Answer]\n%s", response)

	raw, err := e.chat.Chat(ctx, e.model, []llm.Message{
		{Role: "system", Content: evaluationSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, evaluationSchema())
	if err != nil {
		return session.EvaluationResult{}, fmt.Errorf("evaluating response: %w", err)
	}

	var out evaluationJSON
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return session.EvaluationResult{}, fmt.Errorf("parsing evaluation: %w", err)
	}
	return session.EvaluationResult{
		Score:            math.Max(0, math.Min(100, out.Score)),
		Strengths:        out.Strengths,
		Weaknesses:       out.Weaknesses,
		SpecificFeedback: out.SpecificFeedback,
		Suggestions:      out.Suggestions,
	}, nil
}

func evaluationSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"score":             {Type: "number", Description: "Overall score 0-100"},
			"strengths":         {Type: "array", Description: "What the answer did well"},
			"weaknesses":        {Type: "array", Description: "What was missing or wrong"},
			"specific_feedback": {Type: "string", Description: "One or two sentences addressed to the candidate"},
			"suggestions":       {Type: "array", Description: "Concrete ways to improve the answer"},
		},
		Required: []string{"score", "strengths", "weaknesses", "specific_feedback", "suggestions"},
	}
}

var (
	starMarkers      = []string{"situation", "task", "result", "learned", "outcome", "impact", "team", "i decided"}
	reasoningMarkers = []string{"because", "trade-off", "tradeoff", "complexity", "instead", "however", "edge case", "scal"}
)

// heuristicEvaluation gives a rough score from answer length and the presence
// of structure words. It is only used when no model is configured.
func heuristicEvaluation(response, category string) session.EvaluationResult {
	words := len(strings.Fields(response))
	lower := strings.ToLower(response)

	var score float64
	switch {
	case words < 15:
		score = 35
	case words < 40:
		score = 55
	case words < 120:
		score = 68
	default:
		score = 74
	}

	markers := reasoningMarkers
	if c := normalizeCategory(category); c == "behavioral" || c == "resume_based" {
		markers = starMarkers
	}
	hits := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	score = math.Min(95, score+float64(min(hits, 4))*5)

	res := session.EvaluationResult{Score: score}
	if words >= 40 {
		res.Strengths = append(res.Strengths, "Gave a detailed answer")
	} else {
		res.Weaknesses = append(res.Weaknesses, "Answer was brief")
		res.Suggestions = append(res.Suggestions, "expand on your reasoning with a concrete example")
	}
	if hits >= 2 {
		res.Strengths = append(res.Strengths, "Explained the reasoning behind the answer")
	} else {
		res.Weaknesses = append(res.Weaknesses, "Reasoning was mostly implicit")
		res.Suggestions = append(res.Suggestions, "say why you chose your approach and what the alternatives were")
	}
	res.SpecificFeedback = fmt.Sprintf("Scored %.0f based on depth and structure.", score)
	return res
}

func normalizeCategory(c string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), "-", "_")
}
