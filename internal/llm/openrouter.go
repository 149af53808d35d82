package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	openRouterTimeout    = 60 * time.Second
	openRouterAttempts   = 3
	initialBackoff       = 500 * time.Millisecond
	maxRetryAfter        = 10 * time.Second
)

// OpenRouter is a Chatter backed by the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// NewOpenRouter creates a client with the given API key.
func NewOpenRouter(apiKey string) *OpenRouter {
	return NewOpenRouterWithBaseURL(apiKey, defaultOpenRouterURL)
}

// NewOpenRouterWithBaseURL points the client at any OpenAI-compatible
// completions endpoint.
func NewOpenRouterWithBaseURL(apiKey, baseURL string) *OpenRouter {
	return &OpenRouter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: openRouterTimeout},
		backoff:    initialBackoff,
	}
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string       `json:"type"`
	JSONSchema *namedSchema `json:"json_schema,omitempty"`
}

type namedSchema struct {
	Name   string  `json:"name"`
	Strict bool    `json:"strict"`
	Schema *Schema `json:"schema"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Chat sends a non-streaming completion. Rate limits and upstream 5xx
// responses are retried with exponential backoff, honouring Retry-After.
func (c *OpenRouter) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := completionRequest{Model: model, Messages: messages}
	if schema != nil {
		req.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &namedSchema{Name: "response", Schema: schema},
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= openRouterAttempts; attempt++ {
		out, err := c.complete(ctx, body)
		var retry *retryableError
		if !errors.As(err, &retry) {
			return out, err
		}
		lastErr = err
		if attempt == openRouterAttempts {
			break
		}
		if retry.after > 0 {
			wait = retry.after
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", openRouterAttempts, lastErr)
}

// retryableError marks responses worth another attempt.
type retryableError struct {
	status int
	after  time.Duration
}

func (e *retryableError) Error() string {
	if e.status == http.StatusTooManyRequests {
		return "rate limited (HTTP 429)"
	}
	return fmt.Sprintf("upstream unavailable (HTTP %d)", e.status)
}

func (c *OpenRouter) complete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/kalambet/interviewd")
	httpReq.Header.Set("X-Title", "interviewd")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable:
		return "", &retryableError{status: resp.StatusCode, after: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openrouter: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	// Provider failures can arrive with a 200 and an error object.
	if out.Error != nil {
		return "", fmt.Errorf("openrouter: provider error %d: %s", out.Error.Code, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter: completion has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// retryAfter parses a Retry-After value in seconds, capped at maxRetryAfter.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
