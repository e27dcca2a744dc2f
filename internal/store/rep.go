package store

import (
	"database/sql"
	"time"
)

// Rep is one completed squat repetition.
type Rep struct {
	SessionID    string
	Number       int
	MinKneeAngle float64
	MinHipAngle  float64
	Duration     time.Duration
	CompletedAt  time.Time
}

// RepRepository stores completed repetitions.
type RepRepository struct {
	db *sql.DB
}

// Reps returns the rep repository for this store.
func (s *Store) Reps() *RepRepository {
	return &RepRepository{db: s.db}
}

// Add inserts a rep. CompletedAt is set if zero.
func (r *RepRepository) Add(rep *Rep) error {
	if rep.CompletedAt.IsZero() {
		rep.CompletedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO reps (session_id, number, min_knee_angle, min_hip_angle, duration_ms, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rep.SessionID, rep.Number, rep.MinKneeAngle, rep.MinHipAngle, rep.Duration.Milliseconds(), rep.CompletedAt,
	)
	return err
}

// ListBySession returns a session's reps in order.
func (r *RepRepository) ListBySession(sessionID string) ([]*Rep, error) {
	rows, err := r.db.Query(
		`SELECT session_id, number, min_knee_angle, min_hip_angle, duration_ms, completed_at
		 FROM reps WHERE session_id = ? ORDER BY number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reps []*Rep
	for rows.Next() {
		rep := &Rep{}
		var durationMs int64

		err := rows.Scan(&rep.SessionID, &rep.Number, &rep.MinKneeAngle, &rep.MinHipAngle, &durationMs, &rep.CompletedAt)
		if err != nil {
			return nil, err
		}

		rep.Duration = time.Duration(durationMs) * time.Millisecond
		reps = append(reps, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reps, nil
}
