package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent caps in-flight model calls across all sessions.
const DefaultMaxConcurrent = 10

// Limited wraps a Chatter so that at most n calls run at once. Callers that
// cannot get a slot before ctx ends fail instead of queueing forever.
type Limited struct {
	next Chatter
	sem  *semaphore.Weighted
}

// Limit wraps next with a process-wide cap of n concurrent calls.
func Limit(next Chatter, n int64) *Limited {
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(n)}
}

func (l *Limited) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for llm slot: %w", err)
	}
	defer l.sem.Release(1)
	return l.next.Chat(ctx, model, messages, schema)
}
