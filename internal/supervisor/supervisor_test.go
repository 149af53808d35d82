package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kalambet/interviewd/internal/interviewer"
	"github.com/kalambet/interviewd/internal/orchestrator"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/transport"
)

// chanConn is an in-memory Conn.
type chanConn struct {
	events chan transport.Event
	sent   chan transport.Envelope
}

func newChanConn() *chanConn {
	return &chanConn{events: make(chan transport.Event, 8), sent: make(chan transport.Envelope, 32)}
}

func (c *chanConn) Events() <-chan transport.Event { return c.events }

func (c *chanConn) Send(_ context.Context, env transport.Envelope) error {
	c.sent <- env
	return nil
}

func (c *chanConn) next(t *testing.T) transport.Envelope {
	t.Helper()
	select {
	case env := <-c.sent:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return transport.Envelope{}
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSupervisor(t *testing.T, store *storage.Store, factory Factory) *Supervisor {
	t.Helper()
	if factory == nil {
		bank, err := interviewer.LoadBank("")
		if err != nil {
			t.Fatalf("LoadBank: %v", err)
		}
		factory = InterviewerFactory(bank, nil, "")
	}
	sup := New(Options{Store: store, Factory: factory})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup
}

func payload(id string) Payload {
	return Payload{
		SessionID:       id,
		InterviewConfig: session.Config{Kind: session.KindTechnical, TargetRole: "Backend Engineer"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecode(t *testing.T) {
	p, err := Decode([]byte(`{"sessionId":" s-1 ","interviewConfig":{"kind":"coding","targetRole":"SRE"},"candidateProfile":{"name":"Sam"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.SessionID != "s-1" || p.InterviewConfig.Kind != session.KindCoding || p.CandidateProfile.Name != "Sam" {
		t.Errorf("payload = %+v", p)
	}

	for name, data := range map[string]string{
		"missing id": `{"interviewConfig":{}}`,
		"blank id":   `{"sessionId":"   "}`,
		"malformed":  `{"sessionId":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			var cfgErr *orchestrator.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("error = %v, want *ConfigError", err)
			}
		})
	}
}

func TestLaunch_InvalidConfig(t *testing.T) {
	sup := newTestSupervisor(t, openStore(t), nil)

	p := payload("bad")
	p.InterviewConfig.DurationMinutes = 500
	_, err := sup.Launch(p, newChanConn())
	var cfgErr *orchestrator.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if _, ok := sup.Get("bad"); ok {
		t.Error("invalid session was registered")
	}
}

func TestLaunch_Duplicate(t *testing.T) {
	sup := newTestSupervisor(t, openStore(t), nil)

	if _, err := sup.Launch(payload("dup"), newChanConn()); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	if _, err := sup.Launch(payload("dup"), newChanConn()); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second Launch error = %v, want ErrDuplicateSession", err)
	}
	if got := sup.List(); len(got) != 1 || got[0] != "dup" {
		t.Errorf("List() = %v, want [dup]", got)
	}
}

func TestLaunch_FinishedIDIsNotReused(t *testing.T) {
	store := openStore(t)
	sup := newTestSupervisor(t, store, nil)
	conn := newChanConn()

	o, err := sup.Launch(payload("s-1"), conn)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	conn.events <- transport.Event{Kind: transport.EventConnected, Remaining: 1}
	conn.next(t)
	if _, err := o.ConcludeInterview(context.Background(), orchestrator.ReasonRequested); err != nil {
		t.Fatalf("ConcludeInterview: %v", err)
	}
	waitFor(t, "registry removal", func() bool { _, ok := sup.Get("s-1"); return !ok })

	if _, err := sup.Launch(payload("s-1"), newChanConn()); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("relaunch error = %v, want ErrDuplicateSession", err)
	}
	if _, ok := sup.Get("s-1"); ok {
		t.Error("rejected session was left in the registry")
	}
	rec, err := store.GetSession("s-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != session.StatusCompleted {
		t.Errorf("Status = %q, want completed", rec.Status)
	}

	// The wait group must not count the rejected launch.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestLaunch_DisconnectTearsDown(t *testing.T) {
	store := openStore(t)
	sup := newTestSupervisor(t, store, nil)
	conn := newChanConn()

	if _, err := sup.Launch(payload("s-1"), conn); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	conn.events <- transport.Event{Kind: transport.EventConnected, Remaining: 1}
	if env := conn.next(t); env.Type != transport.TypeQuestion {
		t.Fatalf("first envelope = %s, want question", env.Type)
	}

	conn.events <- transport.Event{Kind: transport.EventDisconnected, Remaining: 0}

	waitFor(t, "registry removal", func() bool { _, ok := sup.Get("s-1"); return !ok })
	waitFor(t, "incomplete status", func() bool {
		rec, err := store.GetSession("s-1")
		return err == nil && rec.Status == session.StatusIncomplete
	})

	rec, _ := store.GetSession("s-1")
	if rec.Reason != orchestrator.ReasonDisconnect {
		t.Errorf("Reason = %q, want %q", rec.Reason, orchestrator.ReasonDisconnect)
	}
	if rec.Kind != "technical" || rec.TargetRole != "Backend Engineer" {
		t.Errorf("record = %+v, want kind and role from the payload", rec)
	}
}

func TestShutdown_MarksLiveSessionsIncomplete(t *testing.T) {
	store := openStore(t)
	sup := newTestSupervisor(t, store, nil)
	conn := newChanConn()

	if _, err := sup.Launch(payload("live"), conn); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	conn.events <- transport.Event{Kind: transport.EventConnected, Remaining: 1}
	conn.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec, err := store.GetSession("live")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != session.StatusIncomplete || rec.Reason != ReasonShutdown {
		t.Errorf("status/reason = %q/%q, want incomplete/%s", rec.Status, rec.Reason, ReasonShutdown)
	}

	if _, err := sup.Launch(payload("late"), newChanConn()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Launch after Shutdown error = %v, want ErrShuttingDown", err)
	}
}

func TestLaunch_ResolvesResumeDigest(t *testing.T) {
	store := openStore(t)
	if err := store.SaveResume(storage.Resume{ID: "r-1", Status: storage.ResumePending}); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteResume("r-1", "text", "Go engineer", `["go","kafka"]`); err != nil {
		t.Fatal(err)
	}

	var (
		mu  sync.Mutex
		got session.CandidateProfile
	)
	bank, _ := interviewer.LoadBank("")
	base := InterviewerFactory(bank, nil, "")
	sup := newTestSupervisor(t, store, func(cfg session.Config, profile session.CandidateProfile) (Collaborators, error) {
		mu.Lock()
		got = profile
		mu.Unlock()
		return base(cfg, profile)
	})

	p := payload("with-resume")
	p.CandidateProfile.ResumeID = "r-1"
	if _, err := sup.Launch(p, newChanConn()); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.ResumeDigest != "Go engineer" {
		t.Errorf("ResumeDigest = %q, want %q", got.ResumeDigest, "Go engineer")
	}
	if strings.Join(got.Skills, ",") != "go,kafka" {
		t.Errorf("Skills = %v, want [go kafka]", got.Skills)
	}
}

func TestStart_OverWebsocket(t *testing.T) {
	store := openStore(t)
	sup := newTestSupervisor(t, store, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		sup.Hub().ServeSession(w, r, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	if _, err := sup.Start(payload("ws-1")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := sup.Start(payload("ws-1")); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second Start error = %v, want ErrDuplicateSession", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/ws-1/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var env transport.Envelope
	if err := websocket.JSON.Receive(conn, &env); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if env.Type != transport.TypeQuestion {
		t.Fatalf("first envelope = %s, want question", env.Type)
	}

	answer, _ := transport.NewEnvelope(transport.TypeResponseSubmitted, transport.ResponseSubmitted{
		Response: "I would start by measuring, because guessing wastes time. However the trade-off is effort.",
	})
	if err := websocket.JSON.Send(conn, answer); err != nil {
		t.Fatalf("send: %v", err)
	}

	var types []string
	for len(types) < 2 {
		if err := websocket.JSON.Receive(conn, &env); err != nil {
			t.Fatalf("receive: %v", err)
		}
		types = append(types, env.Type)
	}
	if types[0] != transport.TypeEvaluation || types[1] != transport.TypeQuestion {
		t.Errorf("envelopes after answer = %v, want [evaluation question]", types)
	}

	snap, err := store.LatestSnapshot("ws-1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if len(snap.ResponsesReceived) != 1 {
		t.Errorf("persisted responses = %d, want 1", len(snap.ResponsesReceived))
	}
}
