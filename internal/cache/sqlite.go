// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// mgetChunk bounds the number of bound parameters per IN query.
const mgetChunk = 500

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
}

// SQLiteStore is a Store persisted in a SQLite table. It shares the
// database handle with the record store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the cache table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating cache schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.now().Unix(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	now := s.now().Unix()
	for start := 0; start < len(keys); start += mgetChunk {
		end := min(start+mgetChunk, len(keys))
		batch := keys[start:end]

		args := make([]any, 0, len(batch)+1)
		for _, k := range batch {
			args = append(args, k)
		}
		args = append(args, now)
		query := `SELECT key, value FROM cache_entries WHERE key IN (` +
			placeholders(len(batch)) + `) AND (expires_at = 0 OR expires_at > ?)`

		if err := s.scanInto(ctx, out, query, args); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanInto runs query and closes its rows before returning; the pool has a
// single connection.
func (s *SQLiteStore) scanInto(ctx context.Context, out map[string][]byte, query string, args []any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reading cache entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scanning cache entry: %w", err)
		}
		out[k] = v
	}
	return rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt(s.now(), ttl),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix+":")+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("clearing cache prefix %s: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing cache prefix %s: %w", prefix, err)
	}
	return int(n), nil
}

// Purge deletes expired entries.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
