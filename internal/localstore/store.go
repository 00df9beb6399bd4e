// Package localstore is the client's durable state: the outbox, local
// overrides and response caches, kept in one SQLite file so separate client
// processes see the same queue.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var ErrNotFound = errors.New("localstore: record not found")

type Store struct {
	db *sqlx.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS outbox_entries (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		local_id   TEXT    NOT NULL UNIQUE,
		kind       TEXT    NOT NULL,
		token      TEXT    NOT NULL,
		payload    BLOB    NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_failures (
		local_id        TEXT    PRIMARY KEY,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT    NOT NULL DEFAULT '',
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		parked          INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS overrides (
		token      TEXT    PRIMARY KEY,
		fields     BLOB    NOT NULL,
		updated_at INTEGER NOT NULL,
		confirmed  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		cache_name TEXT    NOT NULL,
		key        TEXT    NOT NULL,
		body       BLOB    NOT NULL,
		stored_at  INTEGER NOT NULL,
		UNIQUE (cache_name, key)
	)`,
}

// Open creates the file and its tables when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "laundry-client.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("localstore: create dirs: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("localstore: create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit: %w", err)
	}
	return nil
}
