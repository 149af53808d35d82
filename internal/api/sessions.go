package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/interviewd/internal/orchestrator"
	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/supervisor"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxResumeBodySize  = 10 << 20 // 10MB
	defaultListLimit   = 20
	maxListLimit       = 100
)

type AppDeps struct {
	Supervisor *supervisor.Supervisor
	Store      *storage.Store
	Token      string
}

// NewAppHandler returns the HTTP API. Everything except /health and the
// websocket endpoint requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/sessions/{id}/ws", handleSessionSocket(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Post("/sessions/{id}/conclude", handleConcludeSession(deps))
		r.Post("/resumes", handleUploadResume(deps))
		r.Get("/resumes/{id}", handleGetResume(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"status":        "ok",
			"live_sessions": len(deps.Supervisor.List()),
		}
		if counts, err := deps.Store.SessionCounts(); err == nil {
			out["sessions"] = counts
		} else {
			slog.Warn("counting sessions", "error", err)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleSessionSocket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Supervisor.Hub().ServeSession(w, r, chi.URLParam(r, "id"))
	}
}

type createSessionResponse struct {
	SessionID    string        `json:"sessionId"`
	State        session.State `json:"state"`
	WebsocketURL string        `json:"websocketUrl"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		p, err := supervisor.Decode(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		o, err := deps.Supervisor.Start(p)
		var cfgErr *orchestrator.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, supervisor.ErrDuplicateSession):
			httpError(w, http.StatusConflict, "conflict_error", "session %s already exists", p.SessionID)
			return
		case errors.Is(err, supervisor.ErrShuttingDown):
			httpError(w, http.StatusServiceUnavailable, "api_error", "server is shutting down")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "starting session: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, createSessionResponse{
			SessionID:    o.ID(),
			State:        o.State(),
			WebsocketURL: "/sessions/" + o.ID() + "/ws",
		})
	}
}

type sessionSummary struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	State      string    `json:"state"`
	Kind       string    `json:"kind"`
	TargetRole string    `json:"targetRole"`
	Live       bool      `json:"live"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", defaultListLimit)
		if limit <= 0 {
			limit = defaultListLimit
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		offset := max(queryInt(r, "offset", 0), 0)

		recs, err := deps.Store.ListSessions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sessions: %v", err)
			return
		}

		out := make([]sessionSummary, len(recs))
		for i, rec := range recs {
			_, live := deps.Supervisor.Get(rec.ID)
			out[i] = sessionSummary{
				ID:         rec.ID,
				Status:     rec.Status,
				State:      rec.State,
				Kind:       rec.Kind,
				TargetRole: rec.TargetRole,
				Live:       live,
				CreatedAt:  rec.CreatedAt,
				UpdatedAt:  rec.UpdatedAt,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type sessionDetail struct {
	sessionSummary
	Reason   string                   `json:"reason,omitempty"`
	Config   json.RawMessage          `json:"config,omitempty"`
	Feedback *session.FinalFeedback   `json:"feedback,omitempty"`
	Stats    *session.IncompleteStats `json:"stats,omitempty"`
	Error    *session.ErrorInfo       `json:"error,omitempty"`
	Snapshot *session.Snapshot        `json:"snapshot,omitempty"`
	// Participants is the number of websocket peers in a live session's room.
	Participants int `json:"participants,omitempty"`
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetSession(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}

		o, live := deps.Supervisor.Get(id)
		detail := sessionDetail{
			sessionSummary: sessionSummary{
				ID:         rec.ID,
				Status:     rec.Status,
				State:      rec.State,
				Kind:       rec.Kind,
				TargetRole: rec.TargetRole,
				Live:       live,
				CreatedAt:  rec.CreatedAt,
				UpdatedAt:  rec.UpdatedAt,
			},
			Reason: rec.Reason,
			Config: json.RawMessage(rec.ConfigJSON),
		}
		if rec.FeedbackJSON != "" {
			var fb session.FinalFeedback
			if err := json.Unmarshal([]byte(rec.FeedbackJSON), &fb); err == nil {
				detail.Feedback = &fb
			}
		}
		if rec.StatsJSON != "" {
			var stats session.IncompleteStats
			if err := json.Unmarshal([]byte(rec.StatsJSON), &stats); err == nil {
				detail.Stats = &stats
			}
		}
		if rec.ErrorKind != "" {
			detail.Error = &session.ErrorInfo{Kind: rec.ErrorKind, Message: rec.ErrorMessage}
		}

		if live {
			snap := o.Snapshot()
			detail.State = string(snap.State)
			detail.Snapshot = &snap
			if room, ok := deps.Supervisor.Hub().Room(id); ok {
				detail.Participants = room.Participants()
			}
		} else if snap, err := deps.Store.LatestSnapshot(id); err == nil {
			detail.Snapshot = &snap
		} else if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("loading latest snapshot", "session_id", id, "error", err)
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func handleConcludeSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		o, ok := deps.Supervisor.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s is not live", id)
			return
		}

		c, err := o.ConcludeInterview(r.Context(), orchestrator.ReasonRequested)
		switch {
		case errors.Is(err, orchestrator.ErrSessionClosed):
			httpError(w, http.StatusConflict, "conflict_error", "session %s has already ended", id)
			return
		case errors.Is(err, orchestrator.ErrInvalidState):
			httpError(w, http.StatusConflict, "conflict_error", "session %s has not started yet", id)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "concluding session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type ResumeUploadRequest struct {
	Filename string `json:"filename"`
	// Content is the base64-encoded file. Text is used when Content is empty.
	Content string `json:"content"`
	Text    string `json:"text"`
}

type resumeResponse struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename,omitempty"`
	Status   string   `json:"status"`
	Digest   string   `json:"digest,omitempty"`
	Skills   []string `json:"skills,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func handleUploadResume(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxResumeBodySize)
		defer r.Body.Close()

		var req ResumeUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var data []byte
		switch {
		case req.Content != "":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is not valid base64: %v", err)
				return
			}
			data = decoded
		case req.Text != "":
			data = []byte(req.Text)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or text is required")
			return
		}

		id, err := resume.Submit(deps.Store, req.Filename, data)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "reading resume: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, resumeResponse{ID: id, Filename: req.Filename, Status: storage.ResumePending})
	}
}

func handleGetResume(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Store.GetResume(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "resume %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading resume: %v", err)
			return
		}

		var skills []string
		_ = json.Unmarshal([]byte(res.Skills), &skills)
		writeJSON(w, http.StatusOK, resumeResponse{
			ID:       res.ID,
			Filename: res.Filename,
			Status:   res.Status,
			Digest:   res.Digest,
			Skills:   skills,
			Error:    res.Error,
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
