// Package kvstore is a SQLite-backed key/value store served as the kv.*
// JSON-RPC methods.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

const (
	// MaxKeyLen bounds key length in bytes.
	MaxKeyLen = 256
	// MaxListLimit bounds the number of entries a single List returns.
	MaxListLimit = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Entry is a stored value.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store holds JSON values by key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at dsn and applies the schema. dsn is
// anything the sqlite driver accepts, such as "kv.db" or "file::memory:".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	// SQLite has a single writer; one connection also keeps an in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: init: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func checkKey(key string) error {
	if key == "" {
		return errors.New("kvstore: empty key")
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("kvstore: key longer than %d bytes", MaxKeyLen)
	}
	return nil
}

// Get returns the entry for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var (
		value   string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM kv WHERE key = ?`, key).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return &Entry{Key: key, Value: json.RawMessage(value), UpdatedAt: time.UnixMilli(updated).UTC()}, nil
}

// Set stores value under key, replacing any previous value. value must be
// valid JSON.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) (*Entry, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if len(value) == 0 || !json.Valid(value) {
		return nil, errors.New("kvstore: value is not valid JSON")
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return &Entry{Key: key, Value: value, UpdatedAt: now}, nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return n > 0, nil
}

// List returns keys starting with prefix in ascending order, after the key
// after (exclusive) when it is non-empty. A limit outside 1..MaxListLimit
// means MaxListLimit.
func (s *Store) List(ctx context.Context, prefix, after string, limit int) ([]string, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv
		 WHERE substr(key, 1, length(?)) = ? AND key > ?
		 ORDER BY key LIMIT ?`,
		prefix, prefix, after, limit)
	if err != nil {
		return nil, fmt.Errorf("kvstore: list: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kvstore: list: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: list: %w", err)
	}
	return keys, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
