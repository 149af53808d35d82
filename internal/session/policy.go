package session

// MinimumQuestionFloor is the lowest question count any session will stop at.
const MinimumQuestionFloor = 3

// overtimeFactor is how far past the target duration questioning may run.
const overtimeFactor = 1.2

// PolicyInput is everything the continuation policy looks at.
type PolicyInput struct {
	Asked           int
	MinQuestions    int
	MaxQuestions    int
	TotalAvailable  int
	ElapsedMinutes  float64
	DurationMinutes int
}

// ShouldContinue decides whether another question should be asked.
//
// The minimum-question floor always wins, even when the session is already
// past the extended time window.
func ShouldContinue(in PolicyInput) bool {
	minQ := max(in.MinQuestions, MinimumQuestionFloor)
	maxQ := min(in.MaxQuestions, in.TotalAvailable)

	if in.Asked < minQ {
		return true
	}
	if in.Asked >= maxQ {
		return false
	}
	return in.ElapsedMinutes < float64(in.DurationMinutes)*overtimeFactor
}
