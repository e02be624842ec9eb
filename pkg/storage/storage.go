// Package storage defines the persistent key-value store contract used for
// user settings and transient hand-off state.
//
// Two stores exist at runtime: a "synchronized" store holding the full
// settings document and a "local" store holding ephemeral keys (the last
// popup text and the current playback hand-off request). Both are accessed
// through the same interface so tests can substitute the in-memory
// implementation for either.
//
// Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
)

// Well-known keys. Settings are owned exclusively by the settings store;
// the local keys are owned by the command bus.
const (
	KeyUserSettings = "userSettings"
	KeyLastText     = "lastText"
	KeyTTSRequest   = "currentTTSRequest"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Event describes an externally observed change to a key. Writes performed
// through the same Store handle do not echo as events.
type Event struct {
	Key string
}

// Store is a minimal persistent key-value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Watch returns a channel of change events for keys modified outside
	// this handle. The channel is closed when the store is closed.
	// Implementations without external change detection return a channel
	// that never fires.
	Watch() <-chan Event

	// Close releases any underlying resources.
	Close() error
}
