package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/interviewer"
	"github.com/kalambet/interviewd/internal/llm"
	"github.com/kalambet/interviewd/internal/orchestrator"
	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/supervisor"
	"github.com/kalambet/interviewd/internal/telemetry"
)

// runtime is the set of long-lived services shared by serve, mcp and run.
type runtime struct {
	cfg    config.Config
	store  *storage.Store
	chat   llm.Chatter
	sup    *supervisor.Supervisor
	worker *resume.Worker

	shutdownTracing func(context.Context) error
}

// openRuntime wires storage, the model backend and the session supervisor.
// progress receives model pull output; pass io.Discard when stdout is a
// protocol stream.
func openRuntime(ctx context.Context, cfg config.Config, progress io.Writer) (*runtime, error) {
	shutdownTracing, err := telemetry.Setup(ctx, "interviewd", version, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	bank, err := interviewer.LoadBank(cfg.Questions.BankPath)
	if err != nil {
		shutdownTracing(ctx)
		return nil, fmt.Errorf("loading question bank: %w", err)
	}

	chat, err := newChatter(ctx, cfg.LLM, progress)
	if err != nil {
		shutdownTracing(ctx)
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		shutdownTracing(ctx)
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	sup := supervisor.New(supervisor.Options{
		Store:               store,
		Factory:             supervisor.InterviewerFactory(bank, chat, cfg.LLM.Model),
		Logger:              slog.Default(),
		CollaboratorTimeout: cfg.Session.CollaboratorTimeoutDuration(),
		Monitor: orchestrator.MonitorConfig{
			Interval:            cfg.Session.MonitorIntervalDuration(),
			InactivityThreshold: cfg.Session.InactivityThresholdDuration(),
			DurationBuffer:      cfg.Session.DurationBufferDuration(),
		},
	})

	return &runtime{
		cfg:             cfg,
		store:           store,
		chat:            chat,
		sup:             sup,
		worker:          resume.NewWorker(store, chat, cfg.LLM.Model, 500*time.Millisecond),
		shutdownTracing: shutdownTracing,
	}, nil
}

// newChatter returns nil when the backend is disabled; collaborators then
// fall back to local heuristics. An unreachable Ollama is not fatal.
func newChatter(ctx context.Context, cfg config.LLMConfig, progress io.Writer) (llm.Chatter, error) {
	chat, err := llm.New(cfg.Backend, cfg.BaseURL, cfg.APIKey)
	if errors.Is(err, llm.ErrDisabled) {
		slog.Info("llm backend disabled, using local heuristics")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	if ollama, ok := chat.(*llm.Ollama); ok {
		if err := ollama.EnsureReady(ctx, cfg.Model, progress); err != nil {
			slog.Warn("ollama not ready, using local heuristics", "error", err)
			return nil, nil
		}
	}

	limit := int64(cfg.MaxConcurrent)
	if limit <= 0 {
		limit = llm.DefaultMaxConcurrent
	}
	slog.Info("llm backend ready", "backend", cfg.Backend, "model", cfg.Model, "max_concurrent", limit)
	return llm.Limit(chat, limit), nil
}

// Close stops live sessions, then releases storage and flushes traces.
func (rt *runtime) Close(ctx context.Context) {
	if err := rt.sup.Shutdown(ctx); err != nil {
		slog.Warn("session shutdown incomplete", "error", err)
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
	if err := rt.shutdownTracing(ctx); err != nil {
		slog.Warn("flushing traces", "error", err)
	}
}
