// Package sqlite implements storage.Store on an embedded SQLite database.
//
// This is the "local" store binding, holding ephemeral keys such as the
// last popup text and the playback hand-off request. SQLite gives us
// durable single-file storage without an external process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key       TEXT PRIMARY KEY,
	value     BLOB NOT NULL,
	updatedAt INTEGER NOT NULL
);`

// Store is a [storage.Store] backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	events chan storage.Event
}

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path with WAL journaling.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, events: make(chan storage.Event)}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite store: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite store: delete %q: %w", key, err)
	}
	return nil
}

// Watch returns a channel that never fires: only this process writes the
// local database.
func (s *Store) Watch() <-chan storage.Event {
	return s.events
}

// Close closes the database.
func (s *Store) Close() error {
	close(s.events)
	return s.db.Close()
}
