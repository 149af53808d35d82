package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/interviewd/internal/clock"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/transport"
)

const tracerName = "github.com/kalambet/interviewd/internal/orchestrator"

// DefaultCollaboratorTimeout bounds every collaborator and store call.
const DefaultCollaboratorTimeout = 20 * time.Second

// Conclusion reasons.
const (
	ReasonPolicy     = "policy"
	ReasonExhausted  = "questions_exhausted"
	ReasonRequested  = "requested"
	ReasonTimeout    = "timeout"
	ReasonInactivity = "inactivity"
	ReasonDisconnect = "participants_left"
)

const (
	fillerPrompt = "Let's take a short pause. While I line up the next question, " +
		"could you tell me a little more about what you've been working on recently?"
	didntCatch  = "Sorry, I didn't catch that. Could you please repeat your answer?"
	ackFallback = "Thank you, that's helpful. Let's keep going."
	noQuestion  = "There's no open question right now. I'll ask the next one in a moment."
	ended       = "This interview has ended."
)

// Options configures one Orchestrator.
type Options struct {
	SessionID string
	Config    session.Config
	Profile   session.CandidateProfile

	Questions QuestionSource
	Evaluator ResponseEvaluator
	Feedback  FeedbackSynthesizer
	Store     ProgressStore
	Transport Transport

	Clock               clock.Clock
	Logger              *slog.Logger
	Tracer              trace.Tracer
	CollaboratorTimeout time.Duration
	Monitor             MonitorConfig
}

// Turn is the result of AskNextQuestion. Exactly one of Question and
// Conclusion is set unless the call fell back to a filler prompt.
type Turn struct {
	Prompt     string
	Question   *session.QuestionRecord
	Conclusion *Conclusion
}

// Conclusion summarises a finished session.
type Conclusion struct {
	Reason            string                `json:"reason"`
	Feedback          session.FinalFeedback `json:"feedback"`
	QuestionsAsked    int                   `json:"questionsAsked"`
	ResponsesReceived int                   `json:"responsesReceived"`
	DurationMinutes   float64               `json:"durationMinutes"`
	Summary           string                `json:"summary"`
}

// EvaluationPayload is the data of an outbound evaluation envelope.
type EvaluationPayload struct {
	ResponseIndex int                      `json:"responseIndex"`
	QuestionIndex int                      `json:"questionIndex"`
	Evaluation    session.EvaluationResult `json:"evaluation"`
	Feedback      string                   `json:"feedback"`
}

// Orchestrator drives a single interview session.
//
// opMu serialises the core operations. stateMu guards progress for short
// sections only, so the monitor and Snapshot never wait on a collaborator.
type Orchestrator struct {
	id        string
	cfg       session.Config
	profile   session.CandidateProfile
	questions QuestionSource
	evaluator ResponseEvaluator
	feedback  FeedbackSynthesizer
	store     ProgressStore
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	monitor   *Monitor

	opMu       sync.Mutex
	conclusion *Conclusion

	stateMu   sync.RWMutex
	progress  *session.Progress
	errMarked bool

	greeted   chan struct{}
	greetOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// New validates opts and builds an Orchestrator in INITIALIZING.
func New(opts Options) (*Orchestrator, error) {
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		return nil, &ConfigError{Err: errors.New("session id is required")}
	}
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{SessionID: id, Err: err}
	}
	var missing []string
	if opts.Questions == nil {
		missing = append(missing, "question source")
	}
	if opts.Evaluator == nil {
		missing = append(missing, "evaluator")
	}
	if opts.Feedback == nil {
		missing = append(missing, "feedback synthesizer")
	}
	if opts.Store == nil {
		missing = append(missing, "progress store")
	}
	if opts.Transport == nil {
		missing = append(missing, "transport")
	}
	if len(missing) > 0 {
		return nil, &ConfigError{SessionID: id, Err: fmt.Errorf("missing %s", strings.Join(missing, ", "))}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	timeout := opts.CollaboratorTimeout
	if timeout <= 0 {
		timeout = DefaultCollaboratorTimeout
	}

	o := &Orchestrator{
		id:        id,
		cfg:       cfg,
		profile:   opts.Profile,
		questions: opts.Questions,
		evaluator: opts.Evaluator,
		feedback:  opts.Feedback,
		store:     opts.Store,
		transport: opts.Transport,
		clock:     clk,
		logger:    logger.With("session_id", id),
		tracer:    tracer,
		timeout:   timeout,
		progress:  session.NewProgress(clk.Now()),
		greeted:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
	o.monitor = newMonitor(o, opts.Monitor.withDefaults())
	return o, nil
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// Config returns the session configuration with defaults applied.
func (o *Orchestrator) Config() session.Config { return o.cfg }

// Monitor returns the session's inactivity and timeout monitor.
func (o *Orchestrator) Monitor() *Monitor { return o.monitor }

// Done is closed once the session is concluded, failed or abandoned.
func (o *Orchestrator) Done() <-chan struct{} { return o.closed }

// State returns the current lifecycle state.
func (o *Orchestrator) State() session.State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.progress.State
}

// Snapshot returns a detached copy of the session's progress.
func (o *Orchestrator) Snapshot() session.Snapshot {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.progress.Snapshot(o.id, o.clock.Now())
}

// Conclusion returns the cached conclusion once the session has completed.
func (o *Orchestrator) Conclusion() (Conclusion, bool) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.conclusion == nil {
		return Conclusion{}, false
	}
	return *o.conclusion, true
}

// Connect moves the session from INITIALIZING to GREETING and records the
// start. Calling it again after the first connection is a no-op.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	ctx, span := o.startSpan(ctx, "orchestrator.Connect")
	defer span.End()

	o.stateMu.Lock()
	if o.progress.State != session.StateInitializing {
		o.stateMu.Unlock()
		return nil
	}
	err := o.progress.Transition(session.StateGreeting)
	if err == nil {
		// The clock runs from the participant joining, not from creation.
		now := o.clock.Now()
		o.progress.StartTime = now
		o.progress.LastActivityTime = now
	}
	o.stateMu.Unlock()
	if err != nil {
		return o.fail(ctx, span, kindState, err)
	}

	sctx, cancel := o.bounded(ctx)
	defer cancel()
	if err := o.store.MarkStarted(sctx, o.id); err != nil {
		return o.fail(ctx, span, kindPersistence, fmt.Errorf("marking session started: %w", err))
	}

	o.greetOnce.Do(func() { close(o.greeted) })
	o.logger.Info("session connected", "kind", o.cfg.Kind, "role", o.cfg.TargetRole)
	return nil
}

// AskNextQuestion asks the next question or, when the continuation policy
// says stop, concludes the session.
func (o *Orchestrator) AskNextQuestion(ctx context.Context) (Turn, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	ctx, span := o.startSpan(ctx, "orchestrator.AskNextQuestion")
	defer span.End()
	return o.askNextLocked(ctx, span)
}

func (o *Orchestrator) askNextLocked(ctx context.Context, span trace.Span) (Turn, error) {
	now := o.clock.Now()

	o.stateMu.RLock()
	state := o.progress.State
	outstanding := o.progress.Outstanding()
	current, _ := o.progress.CurrentQuestion()
	index := o.progress.CurrentQuestionIndex
	asked := len(o.progress.Questions)
	elapsed := o.progress.Elapsed(now)
	history := o.progress.Snapshot(o.id, now).ResponsesReceived
	o.stateMu.RUnlock()

	switch {
	case o.conclusion != nil:
		c := *o.conclusion
		return Turn{Prompt: c.Summary, Conclusion: &c}, nil
	case state.Terminal() || state == session.StateConcluding:
		return Turn{}, ErrSessionClosed
	case state == session.StateInitializing:
		return Turn{}, ErrInvalidState
	}

	if outstanding {
		o.emit(ctx, transport.TypeQuestion, current)
		return Turn{Prompt: current.Text, Question: &current}, nil
	}

	if !session.ShouldContinue(session.PolicyInput{
		Asked:           asked,
		MinQuestions:    o.cfg.MinQuestions,
		MaxQuestions:    o.cfg.MaxQuestions,
		TotalAvailable:  o.questions.TotalAvailable(),
		ElapsedMinutes:  elapsed.Minutes(),
		DurationMinutes: o.cfg.DurationMinutes,
	}) {
		return o.concludeTurn(ctx, span, ReasonPolicy)
	}

	q, err := o.nextQuestion(ctx, index, history)
	if err != nil {
		o.logger.Warn("question source failed, using filler prompt", "index", index, "error", err)
		span.AddEvent("question_source_fallback")
		return Turn{Prompt: fillerPrompt}, nil
	}
	if q == nil {
		return o.concludeTurn(ctx, span, ReasonExhausted)
	}

	now = o.clock.Now()
	o.stateMu.Lock()
	rec, err := o.progress.AppendQuestion(*q, now)
	if err == nil {
		err = o.progress.Transition(session.StateQuestioning)
	}
	snap := o.progress.Snapshot(o.id, now)
	o.stateMu.Unlock()
	if err != nil {
		return Turn{}, o.fail(ctx, span, kindState, fmt.Errorf("recording question %d: %w", index, err))
	}

	if err := o.save(ctx, snap); err != nil {
		return Turn{}, o.fail(ctx, span, kindPersistence, err)
	}
	o.emit(ctx, transport.TypeQuestion, rec)
	span.SetAttributes(attribute.Int("question.index", rec.Index))
	return Turn{Prompt: rec.Text, Question: &rec}, nil
}

func (o *Orchestrator) concludeTurn(ctx context.Context, span trace.Span, reason string) (Turn, error) {
	c, err := o.concludeLocked(ctx, span, reason)
	if err != nil {
		return Turn{}, err
	}
	return Turn{Prompt: c.Summary, Conclusion: &c}, nil
}

type submitResult struct {
	text     string
	accepted bool
	emitted  bool
}

// SubmitResponse records an answer to the outstanding question, scores it and
// returns conversational feedback. Answers that arrive with no question
// outstanding, empty text or a mismatching questionIndex are rejected without
// touching progress.
func (o *Orchestrator) SubmitResponse(ctx context.Context, text string, questionIndex *int) (string, error) {
	res, err := o.submit(ctx, text, questionIndex)
	return res.text, err
}

func (o *Orchestrator) submit(ctx context.Context, text string, questionIndex *int) (submitResult, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	ctx, span := o.startSpan(ctx, "orchestrator.SubmitResponse")
	defer span.End()

	now := o.clock.Now()
	o.stateMu.Lock()
	current, hasQuestion := o.progress.CurrentQuestion()
	if o.progress.State != session.StateQuestioning ||
		!hasQuestion ||
		strings.TrimSpace(text) == "" ||
		(questionIndex != nil && *questionIndex != current.Index) {
		o.stateMu.Unlock()
		span.AddEvent("response_rejected")
		return submitResult{text: didntCatch}, nil
	}
	_, err := o.progress.AppendResponse(text, now)
	if err == nil {
		err = o.progress.Transition(session.StateEvaluating)
	}
	respIndex := len(o.progress.Responses) - 1
	soFar := len(o.progress.Responses)
	o.stateMu.Unlock()
	if err != nil {
		return submitResult{}, o.fail(ctx, span, kindState, fmt.Errorf("recording response: %w", err))
	}

	res := submitResult{text: ackFallback, accepted: true}
	eval, err := o.evaluate(ctx, current, text, session.EvaluationContext{
		TargetRole:      o.cfg.TargetRole,
		ExperienceLevel: o.cfg.ExperienceLevel,
		ResponsesSoFar:  soFar,
	})
	if err != nil {
		o.logger.Warn("evaluation failed, acknowledging without feedback", "response_index", respIndex, "error", err)
		span.AddEvent("evaluator_fallback")
	} else {
		o.stateMu.Lock()
		err = o.progress.AttachEvaluation(respIndex, eval)
		o.stateMu.Unlock()
		if err != nil {
			return submitResult{}, o.fail(ctx, span, kindState, fmt.Errorf("attaching evaluation: %w", err))
		}

		feedback, err := o.forResponse(ctx, eval, soFar <= 2)
		if err != nil {
			o.logger.Warn("feedback synthesis failed", "response_index", respIndex, "error", err)
			span.AddEvent("synthesizer_fallback")
		} else if strings.TrimSpace(feedback) != "" {
			res.text = feedback
		}
		o.emit(ctx, transport.TypeEvaluation, EvaluationPayload{
			ResponseIndex: respIndex,
			QuestionIndex: current.Index,
			Evaluation:    eval,
			Feedback:      res.text,
		})
		res.emitted = true
	}

	if err := o.save(ctx, o.Snapshot()); err != nil {
		return submitResult{}, o.fail(ctx, span, kindPersistence, err)
	}
	return res, nil
}

// ProvideHint returns a structural hint for the current question. It never
// mutates progress and sends nothing once the session is terminal.
func (o *Orchestrator) ProvideHint(ctx context.Context) string {
	o.stateMu.RLock()
	q, _ := o.progress.CurrentQuestion()
	terminal := o.progress.State.Terminal()
	o.stateMu.RUnlock()
	if terminal {
		return ended
	}

	hint := session.HintFor(q.Category)
	o.emit(ctx, transport.TypeHint, transport.TextPayload{Text: hint})
	return hint
}

// HandleClarification restates the current question. Like ProvideHint it
// never mutates progress and is silent after the session ends.
func (o *Orchestrator) HandleClarification(ctx context.Context, request string) string {
	o.stateMu.RLock()
	q, ok := o.progress.CurrentQuestion()
	outstanding := o.progress.Outstanding()
	terminal := o.progress.State.Terminal()
	o.stateMu.RUnlock()
	if terminal {
		return ended
	}

	text := noQuestion
	if ok && outstanding {
		text = session.Clarify(q, request)
	}
	o.emit(ctx, transport.TypeClarification, transport.TextPayload{Text: text})
	return text
}

// ConcludeInterview produces the final feedback and completes the session.
// Later calls return the first result without recomputing it.
func (o *Orchestrator) ConcludeInterview(ctx context.Context, reason string) (Conclusion, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	ctx, span := o.startSpan(ctx, "orchestrator.ConcludeInterview")
	defer span.End()
	return o.concludeLocked(ctx, span, reason)
}

func (o *Orchestrator) concludeLocked(ctx context.Context, span trace.Span, reason string) (Conclusion, error) {
	if o.conclusion != nil {
		return *o.conclusion, nil
	}
	if reason == "" {
		reason = ReasonRequested
	}

	now := o.clock.Now()
	o.stateMu.Lock()
	switch o.progress.State {
	case session.StateInitializing:
		o.stateMu.Unlock()
		return Conclusion{}, ErrInvalidState
	case session.StateCompleted, session.StateError:
		o.stateMu.Unlock()
		return Conclusion{}, ErrSessionClosed
	}
	err := o.progress.Transition(session.StateConcluding)
	o.progress.Reason = reason
	snap := o.progress.Snapshot(o.id, now)
	minutes := o.progress.Elapsed(now).Minutes()
	o.stateMu.Unlock()
	if err != nil {
		return Conclusion{}, o.fail(ctx, span, kindState, err)
	}
	span.SetAttributes(attribute.String("conclusion.reason", reason))

	fb, err := o.final(ctx, snap.QuestionsAsked, snap.ResponsesReceived, minutes)
	if err != nil {
		o.logger.Warn("final feedback synthesis failed, aggregating locally", "error", err)
		span.AddEvent("synthesizer_fallback")
		fb = session.Aggregate(snap.QuestionsAsked, snap.ResponsesReceived, minutes)
	}
	fb = fb.Normalize()

	o.emit(ctx, transport.TypeFinalFeedback, fb)

	sctx, cancel := o.bounded(ctx)
	err = o.store.MarkCompleted(sctx, o.id, fb)
	cancel()
	if err != nil {
		return Conclusion{}, o.fail(ctx, span, kindPersistence, fmt.Errorf("marking session completed: %w", err))
	}

	now = o.clock.Now()
	o.stateMu.Lock()
	err = o.progress.Transition(session.StateCompleted)
	final := o.progress.Snapshot(o.id, now)
	o.stateMu.Unlock()
	if err != nil {
		return Conclusion{}, o.fail(ctx, span, kindState, err)
	}
	if err := o.save(ctx, final); err != nil {
		o.logger.Warn("saving final snapshot", "error", err)
	}

	c := Conclusion{
		Reason:            reason,
		Feedback:          fb,
		QuestionsAsked:    len(snap.QuestionsAsked),
		ResponsesReceived: len(snap.ResponsesReceived),
		DurationMinutes:   minutes,
	}
	c.Summary = summarize(c)
	o.conclusion = &c
	o.close()

	o.logger.Info("session completed",
		"reason", reason,
		"questions", c.QuestionsAsked,
		"responses", c.ResponsesReceived,
		"rating", fb.OverallRating,
	)
	return c, nil
}

// HandleDisconnect reacts to a participant leaving. Once nobody is left the
// session is marked incomplete in the background and abandoned.
func (o *Orchestrator) HandleDisconnect(ctx context.Context, remaining int) {
	if remaining > 0 {
		return
	}

	now := o.clock.Now()
	o.stateMu.RLock()
	state := o.progress.State
	stats := session.IncompleteStats{
		QuestionsCompleted: len(o.progress.Responses),
		ResponsesCompleted: len(o.progress.Responses),
		DurationMinutes:    o.progress.Elapsed(now).Minutes(),
	}
	o.stateMu.RUnlock()

	if state.Terminal() || state == session.StateConcluding || o.isClosed() {
		return
	}

	o.logger.Info("all participants left, abandoning session", "state", state)
	bg := context.WithoutCancel(ctx)
	go func() {
		sctx, cancel := o.bounded(bg)
		defer cancel()
		if err := o.store.MarkIncomplete(sctx, o.id, ReasonDisconnect, stats); err != nil {
			o.logger.Warn("marking session incomplete", "error", err)
		}
	}()
	o.close()
}

// fail moves the session to ERROR, records it once and returns the error the
// caller must propagate.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, kind string, cause error) error {
	o.stateMu.Lock()
	if !o.progress.State.Terminal() {
		_ = o.progress.Transition(session.StateError)
	}
	first := !o.errMarked
	o.errMarked = true
	o.stateMu.Unlock()

	span.RecordError(cause)
	span.SetStatus(codes.Error, kind)

	if first {
		sctx, cancel := o.bounded(context.WithoutCancel(ctx))
		err := o.store.MarkError(sctx, o.id, session.ErrorInfo{Kind: kind, Message: cause.Error()})
		cancel()
		if err != nil {
			o.logger.Error("marking session error", "error", err)
		}
	}
	o.close()
	return &FatalError{SessionID: o.id, Kind: kind, Err: cause}
}

func (o *Orchestrator) close() {
	o.closeOnce.Do(func() { close(o.closed) })
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("session.id", o.id)))
}

func (o *Orchestrator) save(ctx context.Context, snap session.Snapshot) error {
	sctx, cancel := o.bounded(ctx)
	defer cancel()
	if err := o.store.Save(sctx, o.id, snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, typ string, data any) {
	env, err := transport.NewEnvelope(typ, data)
	if err != nil {
		o.logger.Warn("building envelope", "type", typ, "error", err)
		return
	}
	sctx, cancel := o.bounded(ctx)
	defer cancel()
	if err := o.transport.Send(sctx, env); err != nil {
		o.logger.Warn("transport send failed", "type", typ, "error", err)
	}
}

func (o *Orchestrator) nextQuestion(ctx context.Context, index int, history []session.ResponseRecord) (*session.Question, error) {
	cctx, cancel := o.bounded(ctx)
	defer cancel()
	q, err := o.questions.Next(cctx, index, history, o.profile)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "question source", Err: err}
	}
	return q, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, q session.QuestionRecord, text string, ec session.EvaluationContext) (session.EvaluationResult, error) {
	cctx, cancel := o.bounded(ctx)
	defer cancel()
	eval, err := o.evaluator.Evaluate(cctx, q, text, q.Category, ec)
	if err != nil {
		return session.EvaluationResult{}, &CollaboratorError{Collaborator: "evaluator", Err: err}
	}
	return eval, nil
}

func (o *Orchestrator) forResponse(ctx context.Context, eval session.EvaluationResult, isEarly bool) (string, error) {
	cctx, cancel := o.bounded(ctx)
	defer cancel()
	text, err := o.feedback.ForResponse(cctx, eval, isEarly)
	if err != nil {
		return "", &CollaboratorError{Collaborator: "feedback synthesizer", Err: err}
	}
	return text, nil
}

func (o *Orchestrator) final(ctx context.Context, qs []session.QuestionRecord, rs []session.ResponseRecord, minutes float64) (session.FinalFeedback, error) {
	cctx, cancel := o.bounded(ctx)
	defer cancel()
	fb, err := o.feedback.Final(cctx, qs, rs, o.cfg, minutes)
	if err != nil {
		return session.FinalFeedback{}, &CollaboratorError{Collaborator: "feedback synthesizer", Err: err}
	}
	return fb, nil
}

func summarize(c Conclusion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Thanks for your time. We covered %d questions and you answered %d in about %.0f minutes.",
		c.QuestionsAsked, c.ResponsesReceived, c.DurationMinutes)
	if len(c.Feedback.Strengths) > 0 {
		fmt.Fprintf(&sb, " Strongest point: %s.", strings.TrimSuffix(c.Feedback.Strengths[0], "."))
	}
	if len(c.Feedback.Improvements) > 0 {
		fmt.Fprintf(&sb, " Worth working on: %s.", strings.TrimSuffix(c.Feedback.Improvements[0], "."))
	}
	return sb.String()
}
