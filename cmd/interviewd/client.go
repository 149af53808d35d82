package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/interviewd/internal/config"
)

// apiClient talks to a running interviewd server on loopback.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	token, err := config.APIToken(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    serverURL(cfg),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func serverURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

// apiError is a non-2xx answer. The server's error envelope is
// {"error":{"message":...,"type":...}}; other bodies land in Message as is.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// call sends in as JSON (when non-nil) and decodes the reply into out
// (when non-nil).
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is interviewd running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	apiErr := &apiError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message, apiErr.Type = envelope.Error.Message, envelope.Error.Type
	}
	return apiErr
}

func isNotFound(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// healthView mirrors GET /health.
type healthView struct {
	Status       string         `json:"status"`
	LiveSessions int            `json:"live_sessions"`
	Sessions     map[string]int `json:"sessions"`
}

func (c *apiClient) health(ctx context.Context) (healthView, error) {
	var h healthView
	err := c.call(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// sessionRow mirrors the list entries returned by GET /sessions.
type sessionRow struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	State      string    `json:"state"`
	Kind       string    `json:"kind"`
	TargetRole string    `json:"targetRole"`
	Live       bool      `json:"live"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (c *apiClient) listSessions(ctx context.Context, limit, offset int) ([]sessionRow, error) {
	var rows []sessionRow
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/sessions?limit=%d&offset=%d", limit, offset), nil, &rows)
	return rows, err
}

// session returns the detail document unparsed; the CLI only pretty-prints it.
func (c *apiClient) session(ctx context.Context, id string) (json.RawMessage, error) {
	var detail json.RawMessage
	err := c.call(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &detail)
	return detail, err
}

type conclusionView struct {
	Reason   string `json:"reason"`
	Feedback struct {
		OverallRating float64 `json:"overallRating"`
		Grade         string  `json:"grade"`
		Summary       string  `json:"summary"`
	} `json:"feedback"`
	QuestionsAsked    int `json:"questionsAsked"`
	ResponsesReceived int `json:"responsesReceived"`
}

func (c *apiClient) concludeSession(ctx context.Context, id string) (conclusionView, error) {
	var v conclusionView
	err := c.call(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/conclude", struct{}{}, &v)
	return v, err
}

type resumeView struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Status   string   `json:"status"`
	Digest   string   `json:"digest"`
	Skills   []string `json:"skills"`
	Error    string   `json:"error"`
}

func (c *apiClient) uploadResume(ctx context.Context, body map[string]string) (resumeView, error) {
	var v resumeView
	err := c.call(ctx, http.MethodPost, "/resumes", body, &v)
	return v, err
}

func (c *apiClient) resume(ctx context.Context, id string) (resumeView, error) {
	var v resumeView
	err := c.call(ctx, http.MethodGet, "/resumes/"+url.PathEscape(id), nil, &v)
	return v, err
}
