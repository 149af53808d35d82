package storage

import (
	"database/sql"
	"errors"
	"time"
)

func (s *Store) SaveResume(r Resume) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO resumes (id, filename, text, digest, skills, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Filename, r.Text, r.Digest, orDefault(r.Skills, "[]"), orDefault(r.Status, ResumePending),
		r.Error, formatTime(r.CreatedAt), formatTime(now),
	)
	return err
}

func (s *Store) GetResume(id string) (Resume, error) {
	var r Resume
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, filename, text, digest, skills, status, error, created_at, updated_at
		FROM resumes WHERE id = ?`, id,
	).Scan(&r.ID, &r.Filename, &r.Text, &r.Digest, &r.Skills, &r.Status, &r.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Resume{}, ErrNotFound
	}
	if err != nil {
		return Resume{}, err
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Resume{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Resume{}, err
	}
	return r, nil
}

// CompleteResume stores the extracted text and digest and marks the resume ready.
func (s *Store) CompleteResume(id, text, digest, skillsJSON string) error {
	res, err := s.db.Exec(`UPDATE resumes SET text = ?, digest = ?, skills = ?, status = ?, error = '', updated_at = ? WHERE id = ?`,
		text, digest, orDefault(skillsJSON, "[]"), ResumeReady, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// FailResume records why a resume could not be processed.
func (s *Store) FailResume(id, msg string) error {
	res, err := s.db.Exec(`UPDATE resumes SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		ResumeFailed, msg, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}
