package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSession(w, r, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func nextEvent(t *testing.T, r *Room) Event {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRoom_RoundTrip(t *testing.T) {
	hub := NewHub()
	room := hub.Open("sess-1")
	srv := newHubServer(t, hub)

	conn := dial(t, srv, "/sessions/sess-1/ws?participant=ada")

	ev := nextEvent(t, room)
	if ev.Kind != EventConnected || ev.Participant != "ada" || ev.Remaining != 1 {
		t.Fatalf("first event = %+v, want connected ada with 1 participant", ev)
	}

	in, _ := NewEnvelope(TypeResponseSubmitted, ResponseSubmitted{Response: "hello"})
	if err := websocket.JSON.Send(conn, in); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev = nextEvent(t, room)
	if ev.Kind != EventMessage || ev.Envelope.Type != TypeResponseSubmitted {
		t.Fatalf("event = %+v, want response_submitted message", ev)
	}
	var payload ResponseSubmitted
	if err := json.Unmarshal(ev.Envelope.Data, &payload); err != nil || payload.Response != "hello" {
		t.Errorf("payload = %+v, %v", payload, err)
	}

	out, _ := NewEnvelope(TypeHint, TextPayload{Text: "use STAR"})
	if err := room.Send(context.Background(), out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := websocket.JSON.Receive(conn, &got); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.Type != TypeHint {
		t.Errorf("received type = %q, want %q", got.Type, TypeHint)
	}

	_ = conn.Close()
	ev = nextEvent(t, room)
	if ev.Kind != EventDisconnected || ev.Remaining != 0 {
		t.Errorf("event = %+v, want disconnected with 0 remaining", ev)
	}
}

func TestRoom_SendWithoutParticipants(t *testing.T) {
	hub := NewHub()
	room := hub.Open("sess-1")

	env, _ := NewEnvelope(TypeHint, TextPayload{Text: "x"})
	if err := room.Send(context.Background(), env); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("Send err = %v, want ErrNoParticipants", err)
	}

	hub.Close("sess-1")
	if err := room.Send(context.Background(), env); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("Send after close err = %v, want ErrRoomClosed", err)
	}
	if _, ok := hub.Room("sess-1"); ok {
		t.Error("room still registered after Close")
	}
}

func TestHub_UnknownSessionRejected(t *testing.T) {
	srv := newHubServer(t, NewHub())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/ws"
	if conn, err := websocket.Dial(wsURL, "", srv.URL); err == nil {
		_ = conn.Close()
		t.Fatal("dial succeeded for unknown session, want error")
	}
}

func TestConsole_Events(t *testing.T) {
	in := strings.NewReader("my answer\n\n/hint\n/clarify which part?\n/quit\nignored\n")
	c := NewConsole(in, &bytes.Buffer{})
	c.Start(context.Background())

	var kinds []EventKind
	var types []string
	for ev := range c.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventMessage {
			types = append(types, ev.Envelope.Type)
		}
	}

	if len(kinds) != 5 || kinds[0] != EventConnected || kinds[4] != EventDisconnected {
		t.Fatalf("kinds = %v, want connected, 3 messages, disconnected", kinds)
	}
	want := []string{TypeResponseSubmitted, TypeRequestHint, TypeRequestClarification}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestConsole_Send(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out)

	q, _ := NewEnvelope(TypeQuestion, map[string]any{"text": "Why Go?", "category": "technical", "index": 0})
	hint, _ := NewEnvelope(TypeHint, TextPayload{Text: "think aloud"})
	for _, env := range []Envelope{q, hint} {
		if err := c.Send(context.Background(), env); err != nil {
			t.Fatalf("Send(%s): %v", env.Type, err)
		}
	}

	got := out.String()
	if !strings.Contains(got, "Q1 [technical] Why Go?") {
		t.Errorf("output %q missing question line", got)
	}
	if !strings.Contains(got, "think aloud") {
		t.Errorf("output %q missing hint", got)
	}
}
