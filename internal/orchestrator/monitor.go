package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/interviewd/internal/session"
)

// Monitor defaults.
const (
	DefaultMonitorInterval     = 30 * time.Second
	DefaultInactivityThreshold = 10 * time.Minute
	DefaultDurationBuffer      = 5 * time.Minute
)

// MonitorConfig tunes the background timeout and inactivity checks.
type MonitorConfig struct {
	Interval            time.Duration
	InactivityThreshold time.Duration
	DurationBuffer      time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultMonitorInterval
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = DefaultInactivityThreshold
	}
	if c.DurationBuffer <= 0 {
		c.DurationBuffer = DefaultDurationBuffer
	}
	return c
}

// Trigger is the outcome of a single monitor check.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerTimeout    Trigger = ReasonTimeout
	TriggerInactivity Trigger = ReasonInactivity
)

// Monitor watches one session for overrun and inactivity. It only ever takes
// the state read lock; on a trigger it goes through ConcludeInterview like any
// other caller.
type Monitor struct {
	o   *Orchestrator
	cfg MonitorConfig
}

func newMonitor(o *Orchestrator, cfg MonitorConfig) *Monitor {
	return &Monitor{o: o, cfg: cfg}
}

// Check evaluates the session at now.
func (m *Monitor) Check(now time.Time) Trigger {
	m.o.stateMu.RLock()
	state := m.o.progress.State
	elapsed := m.o.progress.Elapsed(now)
	idle := m.o.progress.Idle(now)
	m.o.stateMu.RUnlock()

	switch state {
	case session.StateInitializing, session.StateConcluding, session.StateCompleted, session.StateError:
		return TriggerNone
	}

	limit := time.Duration(m.o.cfg.DurationMinutes)*time.Minute + m.cfg.DurationBuffer
	if elapsed > limit {
		return TriggerTimeout
	}
	if idle > m.cfg.InactivityThreshold {
		return TriggerInactivity
	}
	return TriggerNone
}

// Run ticks until the session closes, ctx ends, or a trigger fires. Only a
// fatal error from the conclusion path is returned.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.o.closed:
			return nil
		case <-ticker.C:
		}

		trigger := m.Check(m.o.clock.Now())
		if trigger == TriggerNone {
			continue
		}

		m.o.logger.Info("monitor triggered conclusion", "trigger", string(trigger))
		_, err := m.o.ConcludeInterview(ctx, string(trigger))
		var fatal *FatalError
		switch {
		case errors.As(err, &fatal):
			return err
		case err != nil && !errors.Is(err, ErrSessionClosed):
			m.o.logger.Warn("monitor conclusion failed", "trigger", string(trigger), "error", err)
		}
		return nil
	}
}
