package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is where a local Ollama server listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama is a Chatter backed by a local Ollama server.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates a client targeting baseURL. Requests are bounded by the
// caller's context only, since a model pull can take minutes.
func NewOllama(baseURL string) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// ollamaError is the body Ollama sends with non-200 responses.
type ollamaError struct {
	Error string `json:"error"`
}

// call sends a JSON request and returns the response once it has a 200
// status. The caller closes the body.
func (c *Ollama) call(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var oe ollamaError
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&oe) == nil && oe.Error != "" {
			return nil, fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, oe.Error)
		}
		return nil, fmt.Errorf("ollama %s: unexpected status %d", path, resp.StatusCode)
	}
	return resp, nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Ollama) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := c.call(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HasModel reports whether name is installed. "mistral-nemo" matches
// "mistral-nemo:latest" and any other tag.
func (c *Ollama) HasModel(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.call(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == name || strings.HasPrefix(m.Name, name+":") {
			return true
		}
	}
	return false
}

type pullStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// pull downloads model and writes a line to w whenever the status or the
// whole-ten percentage changes.
func (c *Ollama) pull(ctx context.Context, model string, w io.Writer) error {
	resp, err := c.call(ctx, http.MethodPost, "/api/pull", map[string]any{"model": model, "stream": true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	lastStatus, lastPct := "", -1
	dec := json.NewDecoder(resp.Body)
	for {
		var st pullStatus
		if err := dec.Decode(&st); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if st.Error != "" {
			return errors.New(st.Error)
		}

		pct := -1
		if st.Total > 0 {
			pct = int(st.Completed * 100 / st.Total)
		}
		if st.Status == lastStatus && pct/10 == lastPct/10 {
			continue
		}
		lastStatus, lastPct = st.Status, pct
		if pct >= 0 {
			fmt.Fprintf(w, "  %s %d%%\n", st.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", st.Status)
		}
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// Chat sends one non-streaming chat turn. A schema is passed as Ollama's
// structured output format.
func (c *Ollama) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	cr := ollamaChatRequest{Model: model, Messages: messages}
	if schema != nil {
		cr.Format = schema
	}
	resp, err := c.call(ctx, http.MethodPost, "/api/chat", cr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return out.Message.Content, nil
}

// EnsureReady checks that the server is up and model is installed, pulling
// it with progress written to w when missing.
func (c *Ollama) EnsureReady(ctx context.Context, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", c.baseURL)
	}
	if !c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := c.pull(ctx, model, w); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
