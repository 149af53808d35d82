package session

import (
	"fmt"
	"math"
	"strings"
)

// Category keys used in FinalFeedback.CategoryScores.
const (
	ScoreTechnical      = "technical"
	ScoreBehavioral     = "behavioral"
	ScoreCommunication  = "communication"
	ScoreProblemSolving = "problem_solving"
)

const maxHeadlineItems = 5

// Aggregate builds FinalFeedback from the evaluations recorded on rs without
// calling any external service. Responses that were never scored are counted
// as answered but contribute nothing to the rating.
func Aggregate(qs []QuestionRecord, rs []ResponseRecord, durationMinutes float64) FinalFeedback {
	var (
		sum      float64
		scored   int
		perCat   = map[string][]float64{}
		strength []string
		improve  []string
		seen     = map[string]bool{}
	)
	for _, r := range rs {
		if r.Evaluation == nil {
			continue
		}
		e := r.Evaluation
		sum += e.Score
		scored++
		bucket := scoreBucket(r.Category)
		perCat[bucket] = append(perCat[bucket], e.Score)
		// Every answer says something about communication.
		if bucket != ScoreCommunication {
			perCat[ScoreCommunication] = append(perCat[ScoreCommunication], e.Score)
		}
		strength = appendUnique(strength, seen, e.Strengths...)
		improve = appendUnique(improve, seen, e.Weaknesses...)
		improve = appendUnique(improve, seen, e.Suggestions...)
	}

	var rating float64
	if scored > 0 {
		rating = round1(sum / float64(scored))
	}

	scores := make(map[string]float64, len(perCat))
	for cat, vals := range perCat {
		var total float64
		for _, v := range vals {
			total += v
		}
		scores[cat] = round1(total / float64(len(vals)))
	}

	if len(strength) > maxHeadlineItems {
		strength = strength[:maxHeadlineItems]
	}
	if len(improve) > maxHeadlineItems {
		improve = improve[:maxHeadlineItems]
	}
	if len(strength) == 0 {
		strength = []string{"Stayed engaged through the interview"}
	}
	if len(improve) == 0 {
		improve = []string{"Add concrete examples and measurable outcomes to your answers"}
	}

	return FinalFeedback{
		OverallRating:    rating,
		Grade:            LetterGrade(rating),
		PerformanceLevel: PerformanceLevel(rating),
		Summary: fmt.Sprintf("You answered %d of %d questions in %.0f minutes with an average score of %.1f.",
			len(rs), len(qs), durationMinutes, rating),
		Strengths:      strength,
		Improvements:   improve,
		CategoryScores: scores,
	}
}

// Normalize fills derived fields a synthesizer may have left empty.
func (f FinalFeedback) Normalize() FinalFeedback {
	f.OverallRating = math.Max(0, math.Min(100, f.OverallRating))
	if f.Grade == "" {
		f.Grade = LetterGrade(f.OverallRating)
	}
	if f.PerformanceLevel == "" {
		f.PerformanceLevel = PerformanceLevel(f.OverallRating)
	}
	return f
}

func scoreBucket(category string) string {
	switch normalizeCategory(category) {
	case "behavioral", "resume_based":
		return ScoreBehavioral
	case "coding", "system_design":
		return ScoreProblemSolving
	case "technical":
		return ScoreTechnical
	default:
		return ScoreCommunication
	}
}

func appendUnique(dst []string, seen map[string]bool, items ...string) []string {
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, it)
	}
	return dst
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
