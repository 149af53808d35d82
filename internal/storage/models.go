package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a record with the same id already exists.
var ErrDuplicate = errors.New("already exists")

// StatusCreated is the status of a session that was registered but has not
// connected yet. The remaining statuses live in package session.
const StatusCreated = "created"

// SessionRecord is the persisted row for one interview session.
type SessionRecord struct {
	ID           string
	Status       string // "created", "started", "completed", "incomplete", "error"
	State        string
	Kind         string
	TargetRole   string
	ConfigJSON   string
	ProfileJSON  string
	Reason       string
	StatsJSON    string // IncompleteStats, set on "incomplete"
	FeedbackJSON string // FinalFeedback, set on "completed"
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    time.Time // zero until the candidate connects
	EndedAt      time.Time // zero until a terminal status is written
}

// Resume statuses.
const (
	ResumePending = "pending"
	ResumeReady   = "ready"
	ResumeFailed  = "failed"
)

type Resume struct {
	ID        string
	Filename  string
	Text      string
	Digest    string
	Skills    string // JSON array stored as text
	Status    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
