package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/interviewd/internal/clock"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/transport"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockSource struct {
	total  int
	nextFn func(index int) (*session.Question, error)
}

func (m *mockSource) Next(_ context.Context, index int, _ []session.ResponseRecord, _ session.CandidateProfile) (*session.Question, error) {
	if m.nextFn != nil {
		return m.nextFn(index)
	}
	return &session.Question{
		Text:       fmt.Sprintf("question %d", index),
		Category:   "technical",
		Difficulty: session.DifficultyMedium,
	}, nil
}

func (m *mockSource) TotalAvailable() int {
	if m.total == 0 {
		return 10
	}
	return m.total
}

type mockEvaluator struct {
	mu         sync.Mutex
	calls      int
	evaluateFn func(call int, response string) (session.EvaluationResult, error)
}

func (m *mockEvaluator) Evaluate(_ context.Context, _ session.QuestionRecord, response, _ string, _ session.EvaluationContext) (session.EvaluationResult, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.evaluateFn != nil {
		return m.evaluateFn(call, response)
	}
	return session.EvaluationResult{
		Score:      75,
		Strengths:  []string{"clear structure"},
		Weaknesses: []string{"few numbers"},
	}, nil
}

type mockSynthesizer struct {
	mu            sync.Mutex
	finalCalls    int
	earlyFlags    []bool
	forResponseFn func(eval session.EvaluationResult, isEarly bool) (string, error)
	finalFn       func(qs []session.QuestionRecord, rs []session.ResponseRecord) (session.FinalFeedback, error)
}

func (m *mockSynthesizer) ForResponse(_ context.Context, eval session.EvaluationResult, isEarly bool) (string, error) {
	m.mu.Lock()
	m.earlyFlags = append(m.earlyFlags, isEarly)
	m.mu.Unlock()
	if m.forResponseFn != nil {
		return m.forResponseFn(eval, isEarly)
	}
	return fmt.Sprintf("scored %.0f", eval.Score), nil
}

func (m *mockSynthesizer) Final(_ context.Context, qs []session.QuestionRecord, rs []session.ResponseRecord, _ session.Config, _ float64) (session.FinalFeedback, error) {
	m.mu.Lock()
	m.finalCalls++
	m.mu.Unlock()
	if m.finalFn != nil {
		return m.finalFn(qs, rs)
	}
	return session.FinalFeedback{
		OverallRating: 80,
		Summary:       fmt.Sprintf("%d questions", len(qs)),
		Strengths:     []string{"communication"},
		Improvements:  []string{"depth"},
	}, nil
}

type incompleteCall struct {
	reason string
	stats  session.IncompleteStats
}

type mockStore struct {
	mu         sync.Mutex
	saves      []session.Snapshot
	started    int
	completed  []session.FinalFeedback
	errorsSeen []session.ErrorInfo
	incomplete chan incompleteCall

	saveFn          func(snap session.Snapshot) error
	markCompletedFn func() error
}

func newMockStore() *mockStore {
	return &mockStore{incomplete: make(chan incompleteCall, 4)}
}

func (m *mockStore) Save(_ context.Context, _ string, snap session.Snapshot) error {
	if m.saveFn != nil {
		if err := m.saveFn(snap); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, snap)
	return nil
}

func (m *mockStore) MarkStarted(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return nil
}

func (m *mockStore) MarkCompleted(_ context.Context, _ string, fb session.FinalFeedback) error {
	if m.markCompletedFn != nil {
		if err := m.markCompletedFn(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, fb)
	return nil
}

func (m *mockStore) MarkIncomplete(_ context.Context, _ string, reason string, stats session.IncompleteStats) error {
	m.incomplete <- incompleteCall{reason: reason, stats: stats}
	return nil
}

func (m *mockStore) MarkError(_ context.Context, _ string, info session.ErrorInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsSeen = append(m.errorsSeen, info)
	return nil
}

func (m *mockStore) counts() (saves, completed, errs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves), len(m.completed), len(m.errorsSeen)
}

type mockTransport struct {
	mu     sync.Mutex
	sent   []transport.Envelope
	sendFn func(env transport.Envelope) error
}

func (m *mockTransport) Send(_ context.Context, env transport.Envelope) error {
	m.mu.Lock()
	m.sent = append(m.sent, env)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(env)
	}
	return nil
}

func (m *mockTransport) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, env := range m.sent {
		out[i] = env.Type
	}
	return out
}

type harness struct {
	o         *Orchestrator
	clock     *clock.Manual
	source    *mockSource
	evaluator *mockEvaluator
	synth     *mockSynthesizer
	store     *mockStore
	transport *mockTransport
}

func newHarness(t *testing.T, cfg session.Config, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewManual(t0),
		source:    &mockSource{},
		evaluator: &mockEvaluator{},
		synth:     &mockSynthesizer{},
		store:     newMockStore(),
		transport: &mockTransport{},
	}
	if cfg.TargetRole == "" {
		cfg.TargetRole = "Backend Engineer"
	}
	opts := Options{
		SessionID: "sess-1",
		Config:    cfg,
		Questions: h.source,
		Evaluator: h.evaluator,
		Feedback:  h.synth,
		Store:     h.store,
		Transport: h.transport,
		Clock:     h.clock,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func (h *harness) ask(t *testing.T) Turn {
	t.Helper()
	turn, err := h.o.AskNextQuestion(context.Background())
	if err != nil {
		t.Fatalf("AskNextQuestion: %v", err)
	}
	return turn
}

func (h *harness) answer(t *testing.T, text string) string {
	t.Helper()
	reply, err := h.o.SubmitResponse(context.Background(), text, nil)
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	return reply
}

func TestNew_ConfigErrors(t *testing.T) {
	var cfgErr *ConfigError

	_, err := New(Options{Config: session.Config{TargetRole: "SRE"}})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("missing session id: err = %v, want *ConfigError", err)
	}

	_, err = New(Options{SessionID: "s", Config: session.Config{TargetRole: "SRE", DurationMinutes: 500}})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("bad duration: err = %v, want *ConfigError", err)
	}
	if cfgErr.SessionID != "s" {
		t.Errorf("SessionID = %q, want %q", cfgErr.SessionID, "s")
	}

	_, err = New(Options{SessionID: "s", Config: session.Config{TargetRole: "SRE"}})
	if !errors.As(err, &cfgErr) || !strings.Contains(err.Error(), "question source") {
		t.Fatalf("missing collaborators: err = %v", err)
	}
}

func TestAskNextQuestion_BeforeConnect(t *testing.T) {
	h := newHarness(t, session.Config{})
	if _, err := h.o.AskNextQuestion(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestConnect_MarksStartedOnce(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)
	h.connect(t)

	if got := h.o.State(); got != session.StateGreeting {
		t.Errorf("State = %s, want GREETING", got)
	}
	if h.store.started != 1 {
		t.Errorf("MarkStarted calls = %d, want 1", h.store.started)
	}
}

func TestAskNextQuestion_IndexIncrementsByOne(t *testing.T) {
	h := newHarness(t, session.Config{MinQuestions: 3, MaxQuestions: 5})
	h.connect(t)

	for i := range 5 {
		before := h.o.Snapshot().CurrentQuestionIndex
		turn := h.ask(t)
		if turn.Question == nil {
			t.Fatalf("ask #%d returned no question", i)
		}
		after := h.o.Snapshot().CurrentQuestionIndex
		if after != before+1 {
			t.Fatalf("CurrentQuestionIndex %d -> %d, want +1", before, after)
		}
		if turn.Question.Index != before {
			t.Errorf("Question.Index = %d, want %d", turn.Question.Index, before)
		}
		h.answer(t, "an answer")
	}
}

func TestAskNextQuestion_OutstandingResendsWithoutMutation(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)

	first := h.ask(t)
	second := h.ask(t)

	if second.Question == nil || second.Question.Index != first.Question.Index {
		t.Fatalf("second ask = %+v, want resend of question %d", second.Question, first.Question.Index)
	}
	snap := h.o.Snapshot()
	if len(snap.QuestionsAsked) != 1 || snap.CurrentQuestionIndex != 1 {
		t.Errorf("questions = %d, index = %d, want 1 and 1", len(snap.QuestionsAsked), snap.CurrentQuestionIndex)
	}
	if saves, _, _ := h.store.counts(); saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
}

func TestSubmitResponse_RejectedWithoutMutation(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)

	if got := h.answer(t, "too early"); got != didntCatch {
		t.Errorf("reply before any question = %q, want didn't-catch text", got)
	}

	h.ask(t)
	h.clock.Advance(time.Minute)

	if got := h.answer(t, "   "); got != didntCatch {
		t.Errorf("reply to empty text = %q, want didn't-catch text", got)
	}
	wrong := 7
	got, err := h.o.SubmitResponse(context.Background(), "answer", &wrong)
	if err != nil || got != didntCatch {
		t.Errorf("reply to wrong index = %q, %v", got, err)
	}

	snap := h.o.Snapshot()
	if len(snap.ResponsesReceived) != 0 {
		t.Errorf("len(ResponsesReceived) = %d, want 0", len(snap.ResponsesReceived))
	}
	if !snap.LastActivityTime.Equal(t0) {
		t.Errorf("LastActivityTime = %v, want %v", snap.LastActivityTime, t0)
	}
	if snap.State != session.StateQuestioning {
		t.Errorf("State = %s, want QUESTIONING", snap.State)
	}

	h.answer(t, "done")
	if got := h.answer(t, "second answer to the same question"); got != didntCatch {
		t.Errorf("reply while EVALUATING = %q, want didn't-catch text", got)
	}
	if n := len(h.o.Snapshot().ResponsesReceived); n != 1 {
		t.Errorf("len(ResponsesReceived) = %d, want 1", n)
	}
}

func TestSubmitResponse_EarlyFlagAndEvaluationEnvelope(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)

	for range 3 {
		h.ask(t)
		if got := h.answer(t, "answer"); got != "scored 75" {
			t.Errorf("reply = %q, want %q", got, "scored 75")
		}
	}

	want := []bool{true, true, false}
	if !reflect.DeepEqual(h.synth.earlyFlags, want) {
		t.Errorf("isEarly flags = %v, want %v", h.synth.earlyFlags, want)
	}

	var evals int
	for _, env := range h.transport.sent {
		if env.Type != transport.TypeEvaluation {
			continue
		}
		evals++
		var p EvaluationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("decoding evaluation payload: %v", err)
		}
		if p.Evaluation.Score != 75 {
			t.Errorf("payload score = %v, want 75", p.Evaluation.Score)
		}
	}
	if evals != 3 {
		t.Errorf("evaluation envelopes = %d, want 3", evals)
	}
	if r := h.o.Snapshot().ResponsesReceived[0]; r.Evaluation == nil || r.Evaluation.Score != 75 {
		t.Errorf("evaluation not attached to response 0: %+v", r.Evaluation)
	}
}

func TestScenarioA_ConcludesAfterMaxQuestions(t *testing.T) {
	h := newHarness(t, session.Config{MinQuestions: 3, MaxQuestions: 5, DurationMinutes: 30})
	h.connect(t)

	for i := range 5 {
		turn := h.ask(t)
		if turn.Conclusion != nil {
			t.Fatalf("ask #%d concluded early", i)
		}
		h.clock.Advance(2 * time.Minute)
		h.answer(t, fmt.Sprintf("answer %d", i))
	}

	turn := h.ask(t)
	if turn.Conclusion == nil {
		t.Fatal("sixth ask did not conclude")
	}
	if turn.Conclusion.Reason != ReasonPolicy {
		t.Errorf("Reason = %q, want %q", turn.Conclusion.Reason, ReasonPolicy)
	}
	snap := h.o.Snapshot()
	if len(snap.QuestionsAsked) != 5 {
		t.Errorf("len(QuestionsAsked) = %d, want 5", len(snap.QuestionsAsked))
	}
	if snap.State != session.StateCompleted {
		t.Errorf("State = %s, want COMPLETED", snap.State)
	}
	if _, completed, _ := h.store.counts(); completed != 1 {
		t.Errorf("completed writes = %d, want 1", completed)
	}
	select {
	case <-h.o.Done():
	default:
		t.Error("Done() not closed after conclusion")
	}
}

func TestConcludeInterview_Idempotent(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)
	h.ask(t)
	h.answer(t, "answer")

	first, err := h.o.ConcludeInterview(context.Background(), ReasonRequested)
	if err != nil {
		t.Fatalf("first ConcludeInterview: %v", err)
	}
	second, err := h.o.ConcludeInterview(context.Background(), ReasonTimeout)
	if err != nil {
		t.Fatalf("second ConcludeInterview: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("conclusions differ:\n first = %+v\nsecond = %+v", first, second)
	}
	if _, completed, _ := h.store.counts(); completed != 1 {
		t.Errorf("completed writes = %d, want 1", completed)
	}
	if h.synth.finalCalls != 1 {
		t.Errorf("Final calls = %d, want 1", h.synth.finalCalls)
	}
	if first.Feedback.Grade != "B" {
		t.Errorf("Grade = %q, want B", first.Feedback.Grade)
	}

	turn := h.ask(t)
	if turn.Conclusion == nil || !reflect.DeepEqual(*turn.Conclusion, first) {
		t.Errorf("ask after conclusion = %+v, want cached conclusion", turn)
	}
}

func TestConcludeInterview_FinalFailureAggregatesLocally(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.synth.finalFn = func([]session.QuestionRecord, []session.ResponseRecord) (session.FinalFeedback, error) {
		return session.FinalFeedback{}, errors.New("model unavailable")
	}
	h.connect(t)
	h.ask(t)
	h.answer(t, "answer")

	c, err := h.o.ConcludeInterview(context.Background(), "")
	if err != nil {
		t.Fatalf("ConcludeInterview: %v", err)
	}
	if c.Feedback.OverallRating != 75 {
		t.Errorf("OverallRating = %v, want 75", c.Feedback.OverallRating)
	}
	if c.Feedback.Grade != "C" {
		t.Errorf("Grade = %q, want C", c.Feedback.Grade)
	}
	if c.Reason != ReasonRequested {
		t.Errorf("Reason = %q, want %q", c.Reason, ReasonRequested)
	}
	if h.o.State() != session.StateCompleted {
		t.Errorf("State = %s, want COMPLETED", h.o.State())
	}
}

func TestConcludeInterview_MarkCompletedFailureIsFatal(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.store.markCompletedFn = func() error { return errors.New("disk full") }
	h.connect(t)

	_, err := h.o.ConcludeInterview(context.Background(), ReasonRequested)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if fatal.Kind != kindPersistence {
		t.Errorf("Kind = %q, want %q", fatal.Kind, kindPersistence)
	}
	if h.o.State() != session.StateError {
		t.Errorf("State = %s, want ERROR", h.o.State())
	}
}

func TestScenarioB_DisconnectMarksIncomplete(t *testing.T) {
	h := newHarness(t, session.Config{MinQuestions: 3, MaxQuestions: 5})
	events := make(chan transport.Event, 8)

	respond := func(text string) transport.Event {
		env, err := transport.NewEnvelope(transport.TypeResponseSubmitted, transport.ResponseSubmitted{Response: text})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		return transport.Event{Kind: transport.EventMessage, Envelope: env}
	}
	events <- transport.Event{Kind: transport.EventConnected, Participant: "candidate", Remaining: 1}
	events <- respond("first answer")
	events <- respond("second answer")
	events <- transport.Event{Kind: transport.EventDisconnected, Participant: "candidate", Remaining: 0}

	errCh := make(chan error, 1)
	go func() { errCh <- h.o.Run(context.Background(), events) }()

	select {
	case call := <-h.store.incomplete:
		if call.stats.QuestionsCompleted != 2 {
			t.Errorf("QuestionsCompleted = %d, want 2", call.stats.QuestionsCompleted)
		}
		if call.stats.ResponsesCompleted != 2 {
			t.Errorf("ResponsesCompleted = %d, want 2", call.stats.ResponsesCompleted)
		}
		if call.reason != ReasonDisconnect {
			t.Errorf("reason = %q, want %q", call.reason, ReasonDisconnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("MarkIncomplete was not called")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after abandonment")
	}

	if _, completed, errs := h.store.counts(); completed != 0 || errs != 0 {
		t.Errorf("completed = %d, errors = %d, want 0 and 0", completed, errs)
	}
}

func TestScenarioC_EvaluatorFailureKeepsResponse(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.evaluator.evaluateFn = func(call int, _ string) (session.EvaluationResult, error) {
		if call == 2 {
			return session.EvaluationResult{}, errors.New("scoring service down")
		}
		return session.EvaluationResult{Score: 60}, nil
	}
	h.connect(t)

	h.ask(t)
	h.answer(t, "first")
	h.ask(t)
	got := h.answer(t, "second")

	if got != ackFallback {
		t.Errorf("reply = %q, want fallback acknowledgement", got)
	}
	snap := h.o.Snapshot()
	if len(snap.ResponsesReceived) != 2 {
		t.Fatalf("len(ResponsesReceived) = %d, want 2", len(snap.ResponsesReceived))
	}
	if snap.ResponsesReceived[1].Evaluation != nil {
		t.Error("failed evaluation was attached")
	}
	if snap.State != session.StateEvaluating {
		t.Errorf("State = %s, want EVALUATING", snap.State)
	}

	h.ask(t)
	if got := h.o.State(); got != session.StateQuestioning {
		t.Errorf("State after next ask = %s, want QUESTIONING", got)
	}
	if _, _, errs := h.store.counts(); errs != 0 {
		t.Errorf("MarkError calls = %d, want 0", errs)
	}
}

func TestScenarioD_PersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.store.saveFn = func(session.Snapshot) error { return errors.New("connection reset") }
	h.connect(t)

	_, err := h.o.AskNextQuestion(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if h.o.State() != session.StateError {
		t.Errorf("State = %s, want ERROR", h.o.State())
	}

	if _, err := h.o.AskNextQuestion(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second ask err = %v, want ErrSessionClosed", err)
	}
	if _, err := h.o.ConcludeInterview(context.Background(), ReasonRequested); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("conclude after error err = %v, want ErrSessionClosed", err)
	}
	if _, _, errs := h.store.counts(); errs != 1 {
		t.Errorf("MarkError calls = %d, want 1", errs)
	}
	if h.store.errorsSeen[0].Kind != kindPersistence {
		t.Errorf("error kind = %q, want %q", h.store.errorsSeen[0].Kind, kindPersistence)
	}
}

func TestAskNextQuestion_SourceFailureUsesFiller(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.source.nextFn = func(int) (*session.Question, error) { return nil, errors.New("timeout") }
	h.connect(t)

	turn := h.ask(t)
	if turn.Prompt != fillerPrompt || turn.Question != nil {
		t.Errorf("turn = %+v, want filler prompt", turn)
	}
	if h.o.State() != session.StateGreeting {
		t.Errorf("State = %s, want GREETING", h.o.State())
	}
	if saves, _, _ := h.store.counts(); saves != 0 {
		t.Errorf("saves = %d, want 0", saves)
	}
}

func TestAskNextQuestion_SourceExhaustedConcludes(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.source.nextFn = func(index int) (*session.Question, error) {
		if index >= 1 {
			return nil, nil
		}
		return &session.Question{Text: "only one", Category: "behavioral"}, nil
	}
	h.connect(t)
	h.ask(t)
	h.answer(t, "answer")

	turn := h.ask(t)
	if turn.Conclusion == nil || turn.Conclusion.Reason != ReasonExhausted {
		t.Fatalf("turn = %+v, want conclusion with reason %q", turn, ReasonExhausted)
	}
}

func TestHintAndClarification_DoNotMutate(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.source.nextFn = func(int) (*session.Question, error) {
		return &session.Question{Text: "Tell me about a conflict.", Category: "behavioral"}, nil
	}
	h.connect(t)
	h.ask(t)
	before := h.o.Snapshot()

	h.clock.Advance(3 * time.Minute)
	hint := h.o.ProvideHint(context.Background())
	clar := h.o.HandleClarification(context.Background(), "what do you mean by conflict?")

	if !strings.Contains(hint, "STAR") {
		t.Errorf("hint = %q, want STAR method", hint)
	}
	if !strings.Contains(clar, "Tell me about a conflict.") {
		t.Errorf("clarification = %q, want restated question", clar)
	}

	after := h.o.Snapshot()
	before.UpdatedAt, after.UpdatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("progress changed:\nbefore = %+v\n after = %+v", before, after)
	}

	types := h.transport.types()
	if types[len(types)-2] != transport.TypeHint || types[len(types)-1] != transport.TypeClarification {
		t.Errorf("sent types = %v, want hint then clarification last", types)
	}
}

func TestHintAndClarification_SilentAfterConclusion(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)
	h.ask(t)
	if _, err := h.o.ConcludeInterview(context.Background(), ReasonRequested); err != nil {
		t.Fatalf("ConcludeInterview: %v", err)
	}
	sent := len(h.transport.types())

	if got := h.o.ProvideHint(context.Background()); got != ended {
		t.Errorf("hint = %q, want %q", got, ended)
	}
	if got := h.o.HandleClarification(context.Background(), "again?"); got != ended {
		t.Errorf("clarification = %q, want %q", got, ended)
	}
	if n := len(h.transport.types()); n != sent {
		t.Errorf("sent %d envelopes after conclusion, want none", n-sent)
	}
}

func TestTransportFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.transport.sendFn = func(transport.Envelope) error { return errors.New("peer gone") }
	h.connect(t)

	turn := h.ask(t)
	if turn.Question == nil {
		t.Fatal("ask failed when transport send failed")
	}
	h.answer(t, "answer")
	if h.o.State() != session.StateEvaluating {
		t.Errorf("State = %s, want EVALUATING", h.o.State())
	}
}

func TestRun_UnknownEnvelopeIgnored(t *testing.T) {
	h := newHarness(t, session.Config{})
	events := make(chan transport.Event, 4)
	events <- transport.Event{Kind: transport.EventConnected, Remaining: 1}
	events <- transport.Event{Kind: transport.EventMessage, Envelope: transport.Envelope{Type: "dance", Data: json.RawMessage(`{}`)}}
	events <- transport.Event{Kind: transport.EventMessage, Envelope: transport.Envelope{Type: transport.TypeRequestHint}}
	close(events)

	if err := h.o.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	types := h.transport.types()
	want := []string{transport.TypeQuestion, transport.TypeHint}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("sent types = %v, want %v", types, want)
	}
}

func TestHandleDisconnect_OthersRemaining(t *testing.T) {
	h := newHarness(t, session.Config{})
	h.connect(t)
	h.o.HandleDisconnect(context.Background(), 1)

	select {
	case <-h.o.Done():
		t.Error("session closed while a participant remained")
	case <-h.store.incomplete:
		t.Error("MarkIncomplete called while a participant remained")
	default:
	}
}
