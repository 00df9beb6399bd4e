package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type CacheEntry struct {
	CacheName string
	Key       string
	Body      []byte
	StoredAt  time.Time
}

type cacheRow struct {
	CacheName string `db:"cache_name"`
	Key       string `db:"key"`
	Body      []byte `db:"body"`
	StoredAt  int64  `db:"stored_at"`
}

// PutCache stores body under key. Re-putting a key counts as a fresh
// insertion for eviction order.
func (s *Store) PutCache(ctx context.Context, cacheName, key string, body []byte, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ? AND key = ?`, cacheName, key); err != nil {
			return fmt.Errorf("localstore: replace cache entry %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (cache_name, key, body, stored_at) VALUES (?, ?, ?, ?)`,
			cacheName, key, body, at.UnixNano()); err != nil {
			return fmt.Errorf("localstore: put cache entry %s: %w", key, err)
		}
		return nil
	})
}

// GetCache returns ErrNotFound for a miss.
func (s *Store) GetCache(ctx context.Context, cacheName, key string) (*CacheEntry, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT cache_name, key, body, stored_at FROM cache_entries WHERE cache_name = ? AND key = ?`, cacheName, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get cache entry %s: %w", key, err)
	}
	return &CacheEntry{
		CacheName: row.CacheName,
		Key:       row.Key,
		Body:      row.Body,
		StoredAt:  time.Unix(0, row.StoredAt).UTC(),
	}, nil
}

// CacheKeys lists keys oldest insertion first.
func (s *Store) CacheKeys(ctx context.Context, cacheName string) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, `SELECT key FROM cache_entries WHERE cache_name = ? ORDER BY id`, cacheName); err != nil {
		return nil, fmt.Errorf("localstore: list cache keys: %w", err)
	}
	return keys, nil
}

// TrimCache deletes the oldest entries so at most keep remain and reports how
// many were removed.
func (s *Store) TrimCache(ctx context.Context, cacheName string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE cache_name = ? AND id NOT IN (
			SELECT id FROM cache_entries WHERE cache_name = ? ORDER BY id DESC LIMIT ?
		)`, cacheName, cacheName, keep)
	if err != nil {
		return 0, fmt.Errorf("localstore: trim cache %s: %w", cacheName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("localstore: trim cache %s: %w", cacheName, err)
	}
	return int(n), nil
}

func (s *Store) CacheNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT DISTINCT cache_name FROM cache_entries ORDER BY cache_name`); err != nil {
		return nil, fmt.Errorf("localstore: list caches: %w", err)
	}
	return names, nil
}

func (s *Store) DeleteCache(ctx context.Context, cacheName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, cacheName); err != nil {
		return fmt.Errorf("localstore: delete cache %s: %w", cacheName, err)
	}
	return nil
}
