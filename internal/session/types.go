package session

import "time"

// Kind is the flavour of interview being run.
type Kind string

const (
	KindBehavioral   Kind = "behavioral"
	KindTechnical    Kind = "technical"
	KindSystemDesign Kind = "system_design"
	KindCoding       Kind = "coding"
	KindMixed        Kind = "mixed"
	KindResumeBased  Kind = "resume_based"
)

// Mode is the media channel the candidate is using.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeVideo Mode = "video"
	ModeText  Mode = "text"
)

// Difficulty grades a single question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// Question is what a QuestionSource hands back before it is recorded.
type Question struct {
	Text       string     `json:"text"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
}

// QuestionRecord is a question that has been asked. Append-only.
type QuestionRecord struct {
	Text       string     `json:"text"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
	Index      int        `json:"index"`
	AskedAt    time.Time  `json:"askedAt"`
}

// ResponseRecord is a candidate answer. Evaluation is attached once scoring
// succeeds and stays nil otherwise.
type ResponseRecord struct {
	Text          string            `json:"text"`
	QuestionIndex int               `json:"questionIndex"`
	Category      string            `json:"category"`
	ReceivedAt    time.Time         `json:"receivedAt"`
	ResponseTime  time.Duration     `json:"responseTimeNs"`
	Evaluation    *EvaluationResult `json:"evaluation,omitempty"`
}

// EvaluationResult is the evaluator's verdict on one response.
type EvaluationResult struct {
	Score            float64  `json:"score"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	SpecificFeedback string   `json:"specificFeedback"`
	Suggestions      []string `json:"suggestions"`
}

// EvaluationContext is the session context passed alongside each response.
type EvaluationContext struct {
	TargetRole      string `json:"targetRole"`
	ExperienceLevel string `json:"experienceLevel"`
	ResponsesSoFar  int    `json:"responsesSoFar"`
}

// FinalFeedback is produced exactly once, at conclusion.
type FinalFeedback struct {
	OverallRating    float64            `json:"overallRating"`
	Grade            string             `json:"grade"`
	PerformanceLevel string             `json:"performanceLevel"`
	Summary          string             `json:"summary"`
	Strengths        []string           `json:"strengths"`
	Improvements     []string           `json:"improvements"`
	CategoryScores   map[string]float64 `json:"categoryScores,omitempty"`
}

// CandidateProfile is optional personalisation data for question selection.
type CandidateProfile struct {
	Name         string         `json:"name,omitempty"`
	ResumeID     string         `json:"resumeId,omitempty"`
	ResumeDigest string         `json:"resumeDigest,omitempty"`
	Skills       []string       `json:"skills,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// IncompleteStats accompanies an "incomplete" status write.
type IncompleteStats struct {
	QuestionsCompleted int     `json:"questionsCompleted"`
	ResponsesCompleted int     `json:"responsesCompleted"`
	DurationMinutes    float64 `json:"durationMinutes"`
}

// ErrorInfo accompanies an "error" status write.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Status values persisted alongside snapshots.
const (
	StatusStarted    = "started"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusError      = "error"
)

// LetterGrade maps a 0-100 rating onto A-F.
func LetterGrade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// PerformanceLevel buckets a 0-100 rating.
func PerformanceLevel(score float64) string {
	switch {
	case score >= 85:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 50:
		return "fair"
	default:
		return "poor"
	}
}
