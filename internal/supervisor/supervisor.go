// Package supervisor owns the set of live sessions: it decodes creation
// payloads, builds and runs an orchestrator per session and tears it down
// once the session ends.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/interviewd/internal/clock"
	"github.com/kalambet/interviewd/internal/orchestrator"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/transport"
)

// ReasonShutdown is recorded for sessions still live when the process stops.
const ReasonShutdown = "server_shutdown"

// ErrDuplicateSession is returned when a session id is already live or has
// been used by an earlier session.
var ErrDuplicateSession = errors.New("session already exists")

// ErrShuttingDown is returned by Start after Shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// Payload is the session creation request.
type Payload struct {
	SessionID        string                   `json:"sessionId"`
	InterviewConfig  session.Config           `json:"interviewConfig"`
	CandidateProfile session.CandidateProfile `json:"candidateProfile"`
}

// Decode parses a creation payload. A missing session id or malformed JSON
// is reported as a *orchestrator.ConfigError.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, &orchestrator.ConfigError{Err: fmt.Errorf("decoding payload: %w", err)}
	}
	p.SessionID = strings.TrimSpace(p.SessionID)
	if p.SessionID == "" {
		return Payload{}, &orchestrator.ConfigError{Err: errors.New("sessionId is required")}
	}
	return p, nil
}

// Conn is a live channel to the session's participants.
type Conn interface {
	Events() <-chan transport.Event
	Send(ctx context.Context, env transport.Envelope) error
}

// Collaborators are the per-session services an orchestrator talks to.
type Collaborators struct {
	Questions orchestrator.QuestionSource
	Evaluator orchestrator.ResponseEvaluator
	Feedback  orchestrator.FeedbackSynthesizer
}

// Factory builds collaborators for a validated config and profile.
type Factory func(cfg session.Config, profile session.CandidateProfile) (Collaborators, error)

// Store is the persistence the supervisor needs on top of ProgressStore.
type Store interface {
	orchestrator.ProgressStore
	CreateSession(rec storage.SessionRecord) error
	GetResume(id string) (storage.Resume, error)
}

// Options configures a Supervisor.
type Options struct {
	Store               Store
	Hub                 *transport.Hub
	Factory             Factory
	Clock               clock.Clock
	Logger              *slog.Logger
	CollaboratorTimeout time.Duration
	Monitor             orchestrator.MonitorConfig
}

// Supervisor is the registry of live sessions.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*orchestrator.Orchestrator
	stopping bool
}

// New creates a Supervisor. Store and Factory are required.
func New(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = transport.NewHub()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*orchestrator.Orchestrator),
	}
}

// Hub is the websocket hub live rooms are opened on.
func (s *Supervisor) Hub() *transport.Hub { return s.opts.Hub }

// Start registers the session and runs it behind a websocket room on the hub.
func (s *Supervisor) Start(p Payload) (*orchestrator.Orchestrator, error) {
	if _, ok := s.Get(p.SessionID); ok {
		return nil, ErrDuplicateSession
	}
	room := s.opts.Hub.Open(p.SessionID)
	o, err := s.Launch(p, room)
	if err != nil {
		if _, live := s.Get(p.SessionID); !live {
			s.opts.Hub.Close(p.SessionID)
		}
		return nil, err
	}
	return o, nil
}

// Launch registers the session and runs it over conn. It returns once the
// orchestrator is running; use Wait or the orchestrator's Done channel to
// follow it.
func (s *Supervisor) Launch(p Payload, conn Conn) (*orchestrator.Orchestrator, error) {
	cfg := p.InterviewConfig.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &orchestrator.ConfigError{SessionID: p.SessionID, Err: err}
	}
	profile := s.resolveProfile(p.CandidateProfile)

	collab, err := s.opts.Factory(cfg, profile)
	if err != nil {
		return nil, &orchestrator.ConfigError{SessionID: p.SessionID, Err: fmt.Errorf("building collaborators: %w", err)}
	}

	o, err := orchestrator.New(orchestrator.Options{
		SessionID:           p.SessionID,
		Config:              cfg,
		Profile:             profile,
		Questions:           collab.Questions,
		Evaluator:           collab.Evaluator,
		Feedback:            collab.Feedback,
		Store:               s.opts.Store,
		Transport:           conn,
		Clock:               s.opts.Clock,
		Logger:              s.logger,
		CollaboratorTimeout: s.opts.CollaboratorTimeout,
		Monitor:             s.opts.Monitor,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, ok := s.sessions[p.SessionID]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	s.sessions[p.SessionID] = o
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.opts.Store.CreateSession(sessionRecord(p.SessionID, cfg, profile, s.opts.Clock.Now())); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.mu.Lock()
			delete(s.sessions, p.SessionID)
			s.mu.Unlock()
			s.wg.Done()
			return nil, fmt.Errorf("%w: %s is already recorded", ErrDuplicateSession, p.SessionID)
		}
		// The progress store upserts the row on first write, so this is
		// recoverable; the listing just loses kind and role.
		s.logger.Warn("registering session", "session_id", p.SessionID, "error", err)
	}

	go s.run(o, conn)
	s.logger.Info("session started", "session_id", p.SessionID, "kind", cfg.Kind, "role", cfg.TargetRole)
	return o, nil
}

func (s *Supervisor) run(o *orchestrator.Orchestrator, conn Conn) {
	defer s.wg.Done()
	id := o.ID()

	err := o.Run(s.ctx, conn.Events())

	var fatal *orchestrator.FatalError
	switch {
	case errors.As(err, &fatal):
		s.logger.Error("session failed", "session_id", id, "kind", fatal.Kind, "error", fatal.Err)
	case err != nil:
		s.logger.Error("session failed", "session_id", id, "error", err)
	default:
		s.abandonIfLive(o)
		s.logger.Info("session ended", "session_id", id, "state", o.State())
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.opts.Hub.Close(id)
}

// abandonIfLive records sessions that stopped without reaching a terminal
// state and without being abandoned by the orchestrator itself.
func (s *Supervisor) abandonIfLive(o *orchestrator.Orchestrator) {
	select {
	case <-o.Done():
		return
	default:
	}
	snap := o.Snapshot()
	if snap.State.Terminal() {
		return
	}
	stats := session.IncompleteStats{
		QuestionsCompleted: len(snap.ResponsesReceived),
		ResponsesCompleted: len(snap.ResponsesReceived),
		DurationMinutes:    s.opts.Clock.Now().Sub(snap.StartTime).Minutes(),
	}
	timeout := s.opts.CollaboratorTimeout
	if timeout <= 0 {
		timeout = orchestrator.DefaultCollaboratorTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.opts.Store.MarkIncomplete(ctx, o.ID(), ReasonShutdown, stats); err != nil {
		s.logger.Warn("marking session incomplete", "session_id", o.ID(), "error", err)
	}
}

// resolveProfile fills the resume digest from storage when the payload only
// references an uploaded resume.
func (s *Supervisor) resolveProfile(p session.CandidateProfile) session.CandidateProfile {
	if p.ResumeID == "" || p.ResumeDigest != "" {
		return p
	}
	r, err := s.opts.Store.GetResume(p.ResumeID)
	if err != nil {
		s.logger.Warn("loading resume for profile", "resume_id", p.ResumeID, "error", err)
		return p
	}
	if r.Status != storage.ResumeReady {
		s.logger.Info("resume not digested yet, continuing without it", "resume_id", p.ResumeID, "status", r.Status)
		return p
	}
	p.ResumeDigest = r.Digest
	if len(p.Skills) == 0 {
		var skills []string
		if err := json.Unmarshal([]byte(r.Skills), &skills); err == nil {
			p.Skills = skills
		}
	}
	return p
}

// Get returns the live orchestrator for id.
func (s *Supervisor) Get(id string) (*orchestrator.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.sessions[id]
	return o, ok
}

// List returns the ids of live sessions in sorted order.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every launched session has been torn down or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting sessions, cancels the live ones and waits for
// their teardown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.cancel()
	return s.Wait(ctx)
}

func sessionRecord(id string, cfg session.Config, profile session.CandidateProfile, now time.Time) storage.SessionRecord {
	cfgJSON, _ := json.Marshal(cfg)
	profileJSON, _ := json.Marshal(profile)
	return storage.SessionRecord{
		ID:          id,
		Kind:        string(cfg.Kind),
		TargetRole:  cfg.TargetRole,
		ConfigJSON:  string(cfgJSON),
		ProfileJSON: string(profileJSON),
		CreatedAt:   now,
	}
}
