package session

import (
	"fmt"
	"strings"
)

var hints = map[string]string{
	"behavioral": "Try the STAR method: describe the Situation, the Task you owned, the Actions you took, " +
		"and the Result. Keep the focus on what you personally did.",
	"technical": "Break the problem down step by step: restate it, walk through a small example, " +
		"outline an approach, then talk about trade-offs and edge cases.",
	"system_design": "Start with requirements and scale estimates, sketch the main components and how data flows " +
		"between them, then go deeper on storage, bottlenecks and failure modes.",
	"coding": "Clarify inputs and outputs first, describe a brute-force approach, then improve it. " +
		"Mention time and space complexity as you go.",
	"resume_based": "Anchor your answer in a concrete project from your background: what the goal was, " +
		"what you built, and what you would do differently now.",
}

const defaultHint = "Take a moment to structure your thoughts: state your main point first, " +
	"support it with a concrete example, and close with what you learned."

// HintFor returns a structural hint for the given question category. It never
// reveals an expected answer.
func HintFor(category string) string {
	if h, ok := hints[normalizeCategory(category)]; ok {
		return h
	}
	return defaultHint
}

// Clarify restates q without adding anything that would give the answer away.
func Clarify(q QuestionRecord, request string) string {
	var sb strings.Builder
	sb.WriteString("Sure, let me rephrase. ")
	fmt.Fprintf(&sb, "The question was: %q. ", strings.TrimSpace(q.Text))
	switch normalizeCategory(q.Category) {
	case "behavioral":
		sb.WriteString("I'm looking for a real example from your experience and how you handled it.")
	case "technical", "coding":
		sb.WriteString("I'm interested in how you reason about the problem, not only the final answer.")
	case "system_design":
		sb.WriteString("Think about the overall architecture first; we can go deeper on any part you choose.")
	case "resume_based":
		sb.WriteString("Feel free to pick whichever part of your background fits best.")
	default:
		sb.WriteString("Answer in whatever way makes most sense to you.")
	}
	if strings.TrimSpace(request) != "" {
		sb.WriteString(" If something specific is unclear, tell me which part and I'll go over it.")
	}
	return sb.String()
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.ReplaceAll(c, "-", "_")
	c = strings.ReplaceAll(c, " ", "_")
	return c
}
