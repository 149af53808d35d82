package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console commands recognised on input.
const (
	consoleHint    = "/hint"
	consoleClarify = "/clarify"
	consoleQuit    = "/quit"
)

// Console is a single-participant text transport over a reader and writer,
// used to run a session from a terminal.
type Console struct {
	in     io.Reader
	events chan Event

	mu  sync.Mutex
	out io.Writer
}

// NewConsole builds a Console. Call Start to begin reading input.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, events: make(chan Event, eventBuffer)}
}

// Events is the single-consumer stream of inbound events. It is closed after
// the participant disconnects.
func (c *Console) Events() <-chan Event { return c.events }

// Start emits a connect event and reads lines until EOF, /quit or ctx ends.
func (c *Console) Start(ctx context.Context) {
	go func() {
		defer close(c.events)
		if !c.emit(ctx, Event{Kind: EventConnected, Participant: "console", Remaining: 1}) {
			return
		}

		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 4096), maxFramePayloadBytes)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == consoleQuit {
				break
			}
			env, err := parseConsoleLine(line)
			if err != nil {
				continue
			}
			if !c.emit(ctx, Event{Kind: EventMessage, Participant: "console", Envelope: env}) {
				return
			}
		}
		c.emit(ctx, Event{Kind: EventDisconnected, Participant: "console", Remaining: 0})
	}()
}

func (c *Console) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseConsoleLine(line string) (Envelope, error) {
	switch {
	case line == consoleHint:
		return Envelope{Type: TypeRequestHint, Data: json.RawMessage(`{}`)}, nil
	case line == consoleClarify || strings.HasPrefix(line, consoleClarify+" "):
		req := strings.TrimSpace(strings.TrimPrefix(line, consoleClarify))
		return NewEnvelope(TypeRequestClarification, ClarificationRequest{Request: req})
	default:
		return NewEnvelope(TypeResponseSubmitted, ResponseSubmitted{Response: line})
	}
}

// Send renders env as human-readable text.
func (c *Console) Send(_ context.Context, env Envelope) error {
	text, err := renderConsole(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprintln(c.out, text)
	return err
}

func renderConsole(env Envelope) (string, error) {
	switch env.Type {
	case TypeQuestion:
		var q struct {
			Text     string `json:"text"`
			Category string `json:"category"`
			Index    int    `json:"index"`
		}
		if err := json.Unmarshal(env.Data, &q); err != nil {
			return "", fmt.Errorf("decoding question: %w", err)
		}
		return fmt.Sprintf("\nQ%d [%s] %s", q.Index+1, q.Category, q.Text), nil

	case TypeEvaluation:
		var e struct {
			Feedback   string `json:"feedback"`
			Evaluation struct {
				Score float64 `json:"score"`
			} `json:"evaluation"`
		}
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return "", fmt.Errorf("decoding evaluation: %w", err)
		}
		return fmt.Sprintf("  (%.0f/100) %s", e.Evaluation.Score, e.Feedback), nil

	case TypeFinalFeedback:
		var f struct {
			OverallRating float64  `json:"overallRating"`
			Grade         string   `json:"grade"`
			Summary       string   `json:"summary"`
			Strengths     []string `json:"strengths"`
			Improvements  []string `json:"improvements"`
		}
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return "", fmt.Errorf("decoding final feedback: %w", err)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "\nFinal rating: %.1f (%s)\n%s", f.OverallRating, f.Grade, f.Summary)
		for _, s := range f.Strengths {
			fmt.Fprintf(&sb, "\n  + %s", s)
		}
		for _, s := range f.Improvements {
			fmt.Fprintf(&sb, "\n  - %s", s)
		}
		return sb.String(), nil

	default:
		var p TextPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Text == "" {
			return fmt.Sprintf("[%s] %s", env.Type, string(env.Data)), nil
		}
		return p.Text, nil
	}
}
