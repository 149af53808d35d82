package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminal is returned by any mutation attempted after COMPLETED or ERROR.
var ErrTerminal = errors.New("session is in a terminal state")

// Progress is the mutable core of a session. It has a single writer; callers
// are responsible for synchronisation.
type Progress struct {
	Questions            []QuestionRecord
	Responses            []ResponseRecord
	CurrentQuestionIndex int
	StartTime            time.Time
	LastActivityTime     time.Time
	State                State
	Reason               string
}

// NewProgress starts a session in INITIALIZING at now.
func NewProgress(now time.Time) *Progress {
	return &Progress{
		StartTime:        now,
		LastActivityTime: now,
		State:            StateInitializing,
	}
}

// Transition moves the session to next if the lifecycle graph allows it.
func (p *Progress) Transition(next State) error {
	if p.State.Terminal() {
		return ErrTerminal
	}
	if err := checkTransition(p.State, next); err != nil {
		return err
	}
	p.State = next
	return nil
}

// Outstanding reports whether the latest question has not been answered yet.
func (p *Progress) Outstanding() bool {
	return len(p.Questions) > 0 && len(p.Responses) < len(p.Questions)
}

// CurrentQuestion returns the most recently asked question, if any.
func (p *Progress) CurrentQuestion() (QuestionRecord, bool) {
	if len(p.Questions) == 0 {
		return QuestionRecord{}, false
	}
	return p.Questions[len(p.Questions)-1], true
}

// AppendQuestion records q as asked at now and advances the index.
func (p *Progress) AppendQuestion(q Question, now time.Time) (QuestionRecord, error) {
	if p.State.Terminal() {
		return QuestionRecord{}, ErrTerminal
	}
	if p.Outstanding() {
		return QuestionRecord{}, fmt.Errorf("question %d is still outstanding", p.CurrentQuestionIndex-1)
	}
	rec := QuestionRecord{
		Text:       q.Text,
		Category:   q.Category,
		Difficulty: q.Difficulty,
		Index:      p.CurrentQuestionIndex,
		AskedAt:    now,
	}
	p.Questions = append(p.Questions, rec)
	p.CurrentQuestionIndex++
	return rec, nil
}

// AppendResponse records text as the answer to the outstanding question and
// refreshes LastActivityTime.
func (p *Progress) AppendResponse(text string, now time.Time) (ResponseRecord, error) {
	if p.State.Terminal() {
		return ResponseRecord{}, ErrTerminal
	}
	q, ok := p.CurrentQuestion()
	if !ok || !p.Outstanding() {
		return ResponseRecord{}, errors.New("no outstanding question")
	}
	rec := ResponseRecord{
		Text:          text,
		QuestionIndex: q.Index,
		Category:      q.Category,
		ReceivedAt:    now,
		ResponseTime:  now.Sub(q.AskedAt),
	}
	p.Responses = append(p.Responses, rec)
	p.LastActivityTime = now
	return rec, nil
}

// AttachEvaluation stores eval against the response at index i.
func (p *Progress) AttachEvaluation(i int, eval EvaluationResult) error {
	if p.State.Terminal() {
		return ErrTerminal
	}
	if i < 0 || i >= len(p.Responses) {
		return fmt.Errorf("response index %d out of range", i)
	}
	e := eval
	p.Responses[i].Evaluation = &e
	return nil
}

// Elapsed is the wall time since the session started.
func (p *Progress) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.StartTime)
}

// Idle is the wall time since the last accepted response.
func (p *Progress) Idle(now time.Time) time.Duration {
	return now.Sub(p.LastActivityTime)
}

// Snapshot is the persisted point-in-time projection of Progress.
type Snapshot struct {
	SessionID            string           `json:"sessionId"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	QuestionsAsked       []QuestionRecord `json:"questionsAsked"`
	ResponsesReceived    []ResponseRecord `json:"responsesReceived"`
	State                State            `json:"state"`
	StartTime            time.Time        `json:"startTime"`
	LastActivityTime     time.Time        `json:"lastActivityTime"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// Snapshot copies p so the result can be read without holding any lock.
func (p *Progress) Snapshot(sessionID string, now time.Time) Snapshot {
	qs := make([]QuestionRecord, len(p.Questions))
	copy(qs, p.Questions)
	rs := make([]ResponseRecord, len(p.Responses))
	for i, r := range p.Responses {
		if r.Evaluation != nil {
			e := *r.Evaluation
			r.Evaluation = &e
		}
		rs[i] = r
	}
	return Snapshot{
		SessionID:            sessionID,
		CurrentQuestionIndex: p.CurrentQuestionIndex,
		QuestionsAsked:       qs,
		ResponsesReceived:    rs,
		State:                p.State,
		StartTime:            p.StartTime,
		LastActivityTime:     p.LastActivityTime,
		UpdatedAt:            now,
	}
}
