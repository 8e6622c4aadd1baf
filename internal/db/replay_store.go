package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/devicetime/internal/stamplog"
)

// Session describes one replay of a stamp log.
type Session struct {
	SessionID       string  `json:"session_id"`
	Source          string  `json:"source"`
	TickFrequencyHz float64 `json:"tick_frequency_hz"`
	WrapModulus     uint64  `json:"wrap_modulus"`
	SwitchTimeSecs  float64 `json:"switch_time_secs"`
	CreatedAt       int64   `json:"created_at"`
}

// Estimate is one translated event as produced by one algorithm.
type Estimate struct {
	Seq        int     `json:"seq"`
	DeviceTime float64 `json:"device_time_s"`
	Estimate   float64 `json:"estimate_s"`
	Ready      bool    `json:"ready"`
}

// Summary holds per-algorithm residual statistics for a session.
// ReadyAfter is nil when the translator never became ready.
type Summary struct {
	Algorithm      string   `json:"algorithm"`
	Samples        int      `json:"samples"`
	MeanResidual   float64  `json:"mean_residual_s"`
	StddevResidual float64  `json:"stddev_residual_s"`
	MinResidual    float64  `json:"min_residual_s"`
	MaxResidual    float64  `json:"max_residual_s"`
	ReadyAfter     *float64 `json:"ready_after_s,omitempty"`
}

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession persists s. If SessionID is empty, a UUID is generated.
func (db *DB) CreateSession(s *Session) error {
	if s.SessionID == "" {
		s.SessionID = uuid.New().String()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixNano()
	}
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO replay_sessions (
				session_id, source, tick_frequency_hz, wrap_modulus, switch_time_secs, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			s.SessionID, s.Source, s.TickFrequencyHz, int64(s.WrapModulus), s.SwitchTimeSecs, s.CreatedAt,
		)
		return err
	})
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var modulus int64
	if err := row.Scan(&s.SessionID, &s.Source, &s.TickFrequencyHz, &modulus, &s.SwitchTimeSecs, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.WrapModulus = uint64(modulus)
	return &s, nil
}

// GetSession returns a single session by ID.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, source, tick_frequency_hz, wrap_modulus, switch_time_secs, created_at
		FROM replay_sessions
		WHERE session_id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

// ListSessions returns all sessions, newest first.
func (db *DB) ListSessions() ([]*Session, error) {
	rows, err := db.Query(`
		SELECT session_id, source, tick_frequency_hz, wrap_modulus, switch_time_secs, created_at
		FROM replay_sessions
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and everything recorded for it.
func (db *DB) DeleteSession(sessionID string) error {
	return retryOnBusy(func() error {
		result, err := db.Exec(`DELETE FROM replay_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil
	})
}

// inTx runs fn inside a transaction, retrying the whole transaction while
// the database is busy.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	return retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// InsertSamples stores the input stamps of a session in log order.
// Tick counts are stored as signed 64-bit integers.
func (db *DB) InsertSamples(sessionID string, records []stamplog.Record) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO replay_samples (
				session_id, seq, event_ticks, transmit_ticks, receive_time_s, offset_s
			) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range records {
			var transmit sql.NullInt64
			if r.HasTransmit {
				transmit = sql.NullInt64{Int64: int64(r.TransmitTicks), Valid: true}
			}
			if _, err := stmt.Exec(sessionID, i, int64(r.EventTicks), transmit, r.ReceiveTime, r.Offset); err != nil {
				return fmt.Errorf("insert sample %d: %w", i, err)
			}
		}
		return nil
	})
}

// Samples returns the stored stamps of a session in log order.
func (db *DB) Samples(sessionID string) ([]stamplog.Record, error) {
	rows, err := db.Query(`
		SELECT event_ticks, transmit_ticks, receive_time_s, offset_s
		FROM replay_samples
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var records []stamplog.Record
	for rows.Next() {
		var event int64
		var transmit sql.NullInt64
		var r stamplog.Record
		if err := rows.Scan(&event, &transmit, &r.ReceiveTime, &r.Offset); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		r.EventTicks = uint64(event)
		if transmit.Valid {
			r.TransmitTicks = uint64(transmit.Int64)
			r.HasTransmit = true
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertEstimates stores the translated events produced by algorithm.
func (db *DB) InsertEstimates(sessionID, algorithm string, estimates []Estimate) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO replay_estimates (
				session_id, algorithm, seq, device_time_s, estimate_s, ready
			) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range estimates {
			if _, err := stmt.Exec(sessionID, algorithm, e.Seq, e.DeviceTime, e.Estimate, e.Ready); err != nil {
				return fmt.Errorf("insert estimate %d: %w", e.Seq, err)
			}
		}
		return nil
	})
}

// Estimates returns the stored estimates of one algorithm in log order.
func (db *DB) Estimates(sessionID, algorithm string) ([]Estimate, error) {
	rows, err := db.Query(`
		SELECT seq, device_time_s, estimate_s, ready
		FROM replay_estimates
		WHERE session_id = ? AND algorithm = ?
		ORDER BY seq`, sessionID, algorithm)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var e Estimate
		if err := rows.Scan(&e.Seq, &e.DeviceTime, &e.Estimate, &e.Ready); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertSummary stores the statistics of one algorithm, replacing any
// earlier summary for the same session and algorithm.
func (db *DB) UpsertSummary(sessionID string, s Summary) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO replay_summaries (
				session_id, algorithm, samples, mean_residual_s, stddev_residual_s,
				min_residual_s, max_residual_s, ready_after_s
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, algorithm) DO UPDATE SET
				samples = excluded.samples,
				mean_residual_s = excluded.mean_residual_s,
				stddev_residual_s = excluded.stddev_residual_s,
				min_residual_s = excluded.min_residual_s,
				max_residual_s = excluded.max_residual_s,
				ready_after_s = excluded.ready_after_s`,
			sessionID, s.Algorithm, s.Samples, s.MeanResidual, s.StddevResidual,
			s.MinResidual, s.MaxResidual, s.ReadyAfter,
		)
		return err
	})
}

// Summaries returns every algorithm summary of a session, by algorithm name.
func (db *DB) Summaries(sessionID string) ([]Summary, error) {
	rows, err := db.Query(`
		SELECT algorithm, samples, mean_residual_s, stddev_residual_s,
		       min_residual_s, max_residual_s, ready_after_s
		FROM replay_summaries
		WHERE session_id = ?
		ORDER BY algorithm`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var readyAfter sql.NullFloat64
		if err := rows.Scan(&s.Algorithm, &s.Samples, &s.MeanResidual, &s.StddevResidual,
			&s.MinResidual, &s.MaxResidual, &readyAfter); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if readyAfter.Valid {
			v := readyAfter.Float64
			s.ReadyAfter = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
