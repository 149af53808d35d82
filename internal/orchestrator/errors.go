package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is called before the
	// session has connected.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrSessionClosed is returned once a session has ended without a
	// conclusion to hand back.
	ErrSessionClosed = errors.New("session closed")
)

// ConfigError means the session could not be constructed. It is never
// retried.
type ConfigError struct {
	SessionID string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("invalid session configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration for session %s: %v", e.SessionID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failure from a question source, evaluator or
// synthesizer. These are always recovered locally.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// FatalError is returned after a session has been moved to ERROR.
type FatalError struct {
	SessionID string
	Kind      string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("session %s failed (%s): %v", e.SessionID, e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Error kinds recorded with MarkError.
const (
	kindPersistence = "persistence"
	kindState       = "state"
	kindPanic       = "panic"
)
