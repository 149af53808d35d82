package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/interviewd/internal/session"
)

const sessionColumns = `id, status, state, kind, target_role, config_json, profile_json, reason,
	stats_json, feedback_json, error_kind, error_message, created_at, updated_at, started_at, ended_at`

// CreateSession registers a session before it goes live. Reusing an id
// returns ErrDuplicate and leaves the stored record untouched.
func (s *Store) CreateSession(rec SessionRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	if rec.State == "" {
		rec.State = string(session.StateInitializing)
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, status, state, kind, target_role, config_json, profile_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, rec.State, rec.Kind, rec.TargetRole,
		orDefault(rec.ConfigJSON, "{}"), orDefault(rec.ProfileJSON, "{}"),
		formatTime(rec.CreatedAt), formatTime(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("session %s: %w", rec.ID, ErrDuplicate)
	}
	return err
}

func (s *Store) GetSession(id string) (SessionRecord, error) {
	rec, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(limit, offset int) ([]SessionRecord, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionCounts returns the number of sessions per status.
func (s *Store) SessionCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LatestSnapshot returns the most recent snapshot saved for id.
func (s *Store) LatestSnapshot(id string) (session.Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot_json FROM session_snapshots
		WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// --- ProgressStore ---

// Save appends snap to the session's snapshot history and mirrors its state
// onto the session row.
func (s *Store) Save(ctx context.Context, sessionID string, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_snapshots (session_id, snapshot_json, created_at) VALUES (?, ?, ?)`,
		sessionID, string(data), now); err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(snap.State), now, sessionID); err != nil {
		return fmt.Errorf("updating session state: %w", err)
	}
	return tx.Commit()
}

func (s *Store) MarkStarted(ctx context.Context, sessionID string) error {
	now := formatTime(time.Now())
	return s.writeStatus(ctx, sessionID, session.StatusStarted,
		`, started_at = COALESCE(started_at, ?)`, now)
}

func (s *Store) MarkCompleted(ctx context.Context, sessionID string, fb session.FinalFeedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("encoding final feedback: %w", err)
	}
	return s.writeStatus(ctx, sessionID, session.StatusCompleted,
		`, feedback_json = ?, ended_at = ?`, string(data), formatTime(time.Now()))
}

func (s *Store) MarkIncomplete(ctx context.Context, sessionID, reason string, stats session.IncompleteStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	return s.writeStatus(ctx, sessionID, session.StatusIncomplete,
		`, reason = ?, stats_json = ?, ended_at = ?`, reason, string(data), formatTime(time.Now()))
}

func (s *Store) MarkError(ctx context.Context, sessionID string, info session.ErrorInfo) error {
	return s.writeStatus(ctx, sessionID, session.StatusError,
		`, state = ?, error_kind = ?, error_message = ?, ended_at = ?`,
		string(session.StateError), info.Kind, info.Message, formatTime(time.Now()))
}

// writeStatus sets status plus the extra assignments in set, creating the
// session row if the caller never registered it.
func (s *Store) writeStatus(ctx context.Context, sessionID, status, set string, args ...any) error {
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID, now); err != nil {
		return err
	}
	params := append([]any{status, now}, args...)
	params = append(params, sessionID)
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ?`+set+` WHERE id = ?`, params...); err != nil {
		return fmt.Errorf("writing %s status: %w", status, err)
	}
	return tx.Commit()
}

func ensureSession(ctx context.Context, tx *sql.Tx, id, now string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, id, now, now); err != nil {
		return fmt.Errorf("ensuring session row: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var createdAt, updatedAt string
	var startedAt, endedAt sql.NullString
	if err := row.Scan(&rec.ID, &rec.Status, &rec.State, &rec.Kind, &rec.TargetRole,
		&rec.ConfigJSON, &rec.ProfileJSON, &rec.Reason, &rec.StatsJSON, &rec.FeedbackJSON,
		&rec.ErrorKind, &rec.ErrorMessage, &createdAt, &updatedAt, &startedAt, &endedAt); err != nil {
		return SessionRecord{}, err
	}
	var err error
	if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return SessionRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return SessionRecord{}, err
	}
	if rec.StartedAt, err = parseNullTime("started_at", startedAt); err != nil {
		return SessionRecord{}, err
	}
	if rec.EndedAt, err = parseNullTime("ended_at", endedAt); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
