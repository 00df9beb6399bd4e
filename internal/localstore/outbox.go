package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// OutboxEntry is a queued write joined with its delivery bookkeeping.
// LocalID, Kind, Token, Payload and CreatedAt never change after insert.
type OutboxEntry struct {
	Seq           int64
	LocalID       string
	Kind          string
	Token         string
	Payload       []byte
	CreatedAt     time.Time
	Attempts      int
	LastError     string
	LastAttemptAt time.Time
	Parked        bool
}

type outboxRow struct {
	Seq           int64  `db:"seq"`
	LocalID       string `db:"local_id"`
	Kind          string `db:"kind"`
	Token         string `db:"token"`
	Payload       []byte `db:"payload"`
	CreatedAt     int64  `db:"created_at"`
	Attempts      int    `db:"attempts"`
	LastError     string `db:"last_error"`
	LastAttemptAt int64  `db:"last_attempt_at"`
	Parked        bool   `db:"parked"`
}

func (r outboxRow) entry() OutboxEntry {
	e := OutboxEntry{
		Seq:       r.Seq,
		LocalID:   r.LocalID,
		Kind:      r.Kind,
		Token:     r.Token,
		Payload:   r.Payload,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Parked:    r.Parked,
	}
	if r.LastAttemptAt != 0 {
		e.LastAttemptAt = time.Unix(0, r.LastAttemptAt).UTC()
	}
	return e
}

const outboxSelect = `
	SELECT e.seq, e.local_id, e.kind, e.token, e.payload, e.created_at,
		COALESCE(f.attempts, 0) AS attempts,
		COALESCE(f.last_error, '') AS last_error,
		COALESCE(f.last_attempt_at, 0) AS last_attempt_at,
		COALESCE(f.parked, 0) AS parked
	FROM outbox_entries e
	LEFT JOIN outbox_failures f ON f.local_id = e.local_id
`

func (s *Store) InsertOutbox(ctx context.Context, e OutboxEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_entries (local_id, kind, token, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.LocalID, e.Kind, e.Token, e.Payload, e.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("localstore: insert outbox entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("localstore: outbox entry id: %w", err)
	}
	return seq, nil
}

// ListOutbox returns every queued entry in insertion order.
func (s *Store) ListOutbox(ctx context.Context) ([]OutboxEntry, error) {
	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, outboxSelect+` ORDER BY e.seq`); err != nil {
		return nil, fmt.Errorf("localstore: list outbox: %w", err)
	}
	entries := make([]OutboxEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (s *Store) GetOutbox(ctx context.Context, localID string) (*OutboxEntry, error) {
	var row outboxRow
	err := s.db.GetContext(ctx, &row, outboxSelect+` WHERE e.local_id = ?`, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get outbox entry %s: %w", localID, err)
	}
	e := row.entry()
	return &e, nil
}

// DeleteOutbox removes a delivered entry and its bookkeeping.
func (s *Store) DeleteOutbox(ctx context.Context, localID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_entries WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("localstore: delete outbox entry %s: %w", localID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_failures WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("localstore: delete outbox failure %s: %w", localID, err)
		}
		return nil
	})
}

// RecordFailure bumps the attempt counter. The entry is parked once attempts
// reaches maxAttempts, or immediately when park is set.
func (s *Store) RecordFailure(ctx context.Context, localID, lastError string, at time.Time, maxAttempts int, park bool) (attempts int, parked bool, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_failures (local_id, attempts, last_error, last_attempt_at, parked)
			VALUES (?, 1, ?, ?, 0)
			ON CONFLICT (local_id) DO UPDATE SET
				attempts = attempts + 1,
				last_error = excluded.last_error,
				last_attempt_at = excluded.last_attempt_at`,
			localID, lastError, at.UnixNano())
		if err != nil {
			return fmt.Errorf("localstore: record failure %s: %w", localID, err)
		}

		if err := tx.GetContext(ctx, &attempts, `SELECT attempts FROM outbox_failures WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("localstore: read attempts %s: %w", localID, err)
		}

		parked = park || attempts >= maxAttempts
		if parked {
			if _, err := tx.ExecContext(ctx, `UPDATE outbox_failures SET parked = 1 WHERE local_id = ?`, localID); err != nil {
				return fmt.Errorf("localstore: park %s: %w", localID, err)
			}
		}
		return nil
	})
	return attempts, parked, err
}

// ResetFailure clears the bookkeeping so the entry is retried from scratch.
func (s *Store) ResetFailure(ctx context.Context, localID string) error {
	if _, err := s.GetOutbox(ctx, localID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox_failures WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("localstore: reset failure %s: %w", localID, err)
	}
	return nil
}
