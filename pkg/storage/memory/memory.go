// Package memory provides an in-memory storage.Store for tests.
package memory

import (
	"context"
	"sync"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

// Store is a map-backed [storage.Store]. The zero value is not usable;
// call New.
type Store struct {
	mu     sync.Mutex
	data   map[string][]byte
	events chan storage.Event
	closed bool

	// GetErr, if non-nil, is returned by every Get. SetErr likewise for
	// Set. Tests use these to simulate a failing persistent store.
	GetErr error
	SetErr error

	// SetCalls counts successful writes.
	SetCalls int
}

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:   make(map[string][]byte),
		events: make(chan storage.Event, 16),
	}
}

// Get returns a copy of the value under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	s.SetCalls++
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Watch returns the event channel. Use Emit to inject external changes.
func (s *Store) Watch() <-chan storage.Event {
	return s.events
}

// Emit simulates an external modification of key.
func (s *Store) Emit(key string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- storage.Event{Key: key}:
	default:
	}
}

// Close closes the event channel.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
