package transport

import (
	"encoding/json"
	"fmt"
)

// Outbound envelope types.
const (
	TypeQuestion      = "question"
	TypeEvaluation    = "evaluation"
	TypeFinalFeedback = "final_feedback"
	TypeHint          = "hint"
	TypeClarification = "clarification"
	TypeMessage       = "message"
	TypeError         = "error"
)

// Inbound envelope types.
const (
	TypeResponseSubmitted    = "response_submitted"
	TypeRequestHint          = "request_hint"
	TypeRequestClarification = "request_clarification"
)

// Envelope is the message frame used in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// ResponseSubmitted is the payload of a response_submitted envelope.
type ResponseSubmitted struct {
	Response      string `json:"response"`
	QuestionIndex *int   `json:"questionIndex,omitempty"`
}

// ClarificationRequest is the payload of a request_clarification envelope.
type ClarificationRequest struct {
	Request string `json:"request"`
}

// TextPayload carries a single human-readable string.
type TextPayload struct {
	Text string `json:"text"`
}

// EventKind identifies what happened on the channel.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one inbound occurrence on a session's channel.
type Event struct {
	Kind        EventKind
	Participant string
	// Remaining is the number of participants still connected after a
	// connect or disconnect.
	Remaining int
	Envelope  Envelope
}
