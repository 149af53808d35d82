// Package llm holds the language-model backends the interviewer components
// talk to. Every backend implements Chatter; callers always have a local
// fallback and treat any error as "no answer".
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object a structured chat call should return.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes one field of a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Chatter sends chat messages to a model. When schema is non-nil the backend
// is asked for a JSON object matching it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)
}

// Backend names accepted by New.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
	BackendNone       = "none"
)

// ErrDisabled is returned by New for the "none" backend.
var ErrDisabled = errors.New("llm backend disabled")

// New builds the named backend. baseURL may be empty to use the backend's
// default.
func New(backend, baseURL, apiKey string) (Chatter, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendOllama:
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return NewOllama(baseURL), nil
	case BackendOpenRouter:
		if apiKey == "" {
			return nil, errors.New("openrouter backend requires llm.api_key")
		}
		if baseURL == "" {
			return NewOpenRouter(apiKey), nil
		}
		return NewOpenRouterWithBaseURL(apiKey, baseURL), nil
	case BackendNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown llm backend %q", backend)
	}
}

// DecodeJSON extracts the first JSON object from resp into v. Small models
// frequently wrap JSON in markdown code fences or add conversational filler.
func DecodeJSON(resp string, v any) error {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return errors.New("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
