package store

import (
	"database/sql"
	"errors"
	"time"
)

// Source identifies where a session's frames came from.
type Source string

const (
	// SourceWebSocket is a browser client streaming frames over /ws.
	SourceWebSocket Source = "websocket"
	// SourceCamera is the local camera pipeline.
	SourceCamera Source = "camera"
)

// Session is one coaching session as stored in the database.
// EndedAt is nil while the session is still running.
type Session struct {
	ID             string
	Source         Source
	Backend        string
	Reps           int
	Frames         int
	DetectedFrames int
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Duration returns the session length, measured up to now for open sessions.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session. StartedAt is set if zero.
func (r *SessionRepository) Create(s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, backend, reps, frames, detected_frames, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Source), s.Backend, s.Reps, s.Frames, s.DetectedFrames, s.StartedAt, nullTime(s.EndedAt),
	)
	return err
}

// Finish records the final counters of a session and marks it ended.
func (r *SessionRepository) Finish(s *Session) error {
	if s.EndedAt == nil {
		now := time.Now()
		s.EndedAt = &now
	}

	result, err := r.db.Exec(
		`UPDATE sessions SET reps = ?, frames = ?, detected_frames = ?, ended_at = ?
		 WHERE id = ?`,
		s.Reps, s.Frames, s.DetectedFrames, *s.EndedAt, s.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, source, backend, reps, frames, detected_frames, started_at, ended_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves the most recent sessions, newest first. A limit of zero or
// less returns every session.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT id, source, backend, reps, frames, detected_frames, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session and its reps.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var source string
	var ended sql.NullTime

	err := row.Scan(&s.ID, &source, &s.Backend, &s.Reps, &s.Frames, &s.DetectedFrames, &s.StartedAt, &ended)
	if err != nil {
		return nil, err
	}

	s.Source = Source(source)
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
