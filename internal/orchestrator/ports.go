package orchestrator

import (
	"context"

	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/transport"
)

// QuestionSource picks or generates the next question. A nil question with a
// nil error means the source has nothing left to ask.
type QuestionSource interface {
	Next(ctx context.Context, index int, history []session.ResponseRecord, profile session.CandidateProfile) (*session.Question, error)
	TotalAvailable() int
}

// ResponseEvaluator scores a free-text answer.
type ResponseEvaluator interface {
	Evaluate(ctx context.Context, q session.QuestionRecord, response, category string, ec session.EvaluationContext) (session.EvaluationResult, error)
}

// FeedbackSynthesizer turns evaluations into conversational text and writes
// the final report.
type FeedbackSynthesizer interface {
	ForResponse(ctx context.Context, eval session.EvaluationResult, isEarly bool) (string, error)
	Final(ctx context.Context, qs []session.QuestionRecord, rs []session.ResponseRecord, cfg session.Config, durationMinutes float64) (session.FinalFeedback, error)
}

// ProgressStore is the durable home of snapshots and status writes.
type ProgressStore interface {
	Save(ctx context.Context, sessionID string, snap session.Snapshot) error
	MarkStarted(ctx context.Context, sessionID string) error
	MarkCompleted(ctx context.Context, sessionID string, fb session.FinalFeedback) error
	MarkIncomplete(ctx context.Context, sessionID, reason string, stats session.IncompleteStats) error
	MarkError(ctx context.Context, sessionID string, info session.ErrorInfo) error
}

// Transport carries outbound envelopes to the participants.
type Transport interface {
	Send(ctx context.Context, env transport.Envelope) error
}
