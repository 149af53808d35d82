package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes   = 64 << 10
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 5
	eventBuffer            = 64
)

// ErrNoParticipants is returned by Send when nobody is connected to the room.
var ErrNoParticipants = errors.New("no participants connected")

// ErrRoomClosed is returned by Send after the room has been closed.
var ErrRoomClosed = errors.New("room closed")

// Hub owns one Room per live session.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room), logger: slog.Default()}
}

// Open returns the room for sessionID, creating it if needed.
func (h *Hub) Open(sessionID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[sessionID]; ok {
		return r
	}
	r := newRoom(sessionID, h.logger)
	h.rooms[sessionID] = r
	return r
}

// Room looks up an open room.
func (h *Hub) Room(sessionID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	return r, ok
}

// Close shuts the room for sessionID and forgets it.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()
	if ok {
		r.Close()
	}
}

// ServeSession upgrades the request to a websocket bound to sessionID's room.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	room, ok := h.Room(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))
	if participant == "" {
		participant = "candidate"
	}
	websocket.Handler(func(conn *websocket.Conn) {
		room.serveConn(conn, participant)
	}).ServeHTTP(w, r)
}

// Room is the real-time channel for one session. Inbound traffic is surfaced
// as Events; outbound envelopes are broadcast to every connected peer.
type Room struct {
	id     string
	logger *slog.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newRoom(id string, logger *slog.Logger) *Room {
	return &Room{
		id:     id,
		logger: logger,
		peers:  make(map[*peer]struct{}),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events is the single-consumer stream of inbound events.
func (r *Room) Events() <-chan Event { return r.events }

// Participants reports how many peers are connected.
func (r *Room) Participants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Send broadcasts env to every connected peer.
func (r *Room) Send(_ context.Context, env Envelope) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	if len(peers) == 0 {
		return ErrNoParticipants
	}
	var errs []error
	for _, p := range peers {
		if err := p.write(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops event delivery. Connected peers are left to drain on their own.
func (r *Room) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Room) emit(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Room) join(p *peer) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	r.peers[p] = struct{}{}
	return len(r.peers), true
}

func (r *Room) leave(p *peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
	return len(r.peers)
}

type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *peer) write(env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(env)
}

func (r *Room) serveConn(conn *websocket.Conn, participant string) {
	defer conn.Close()

	p := &peer{encoder: json.NewEncoder(conn)}
	count, ok := r.join(p)
	if !ok {
		return
	}
	r.emit(Event{Kind: EventConnected, Participant: participant, Remaining: count})
	defer func() {
		remaining := r.leave(p)
		r.emit(Event{Kind: EventDisconnected, Participant: participant, Remaining: remaining})
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var env Envelope
		if err := decoder.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			r.logger.Debug("transport: invalid frame", "session_id", r.id, "error", err)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// The decoder cannot resync after a syntax error.
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(env.Data) > maxFramePayloadBytes {
			r.writeError(p, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			r.writeError(p, "rate limit exceeded")
			return
		}

		r.emit(Event{Kind: EventMessage, Participant: participant, Envelope: env})
	}
}

func (r *Room) writeError(p *peer, msg string) {
	env, err := NewEnvelope(TypeError, TextPayload{Text: msg})
	if err != nil {
		return
	}
	if err := p.write(env); err != nil {
		r.logger.Debug("transport: failed to write error frame", "session_id", r.id, "error", err)
	}
}
