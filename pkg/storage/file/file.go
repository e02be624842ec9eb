// Package file implements storage.Store on a single JSON document file.
//
// This is the "synchronized" store binding: external tools (or a second
// process) may edit the file, and the store surfaces those edits as watch
// events via fsnotify. Writes are atomic (temp file + rename).
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

// Store persists keys as fields of one JSON object on disk.
type Store struct {
	path string

	mu       sync.Mutex
	snapshot map[string]json.RawMessage // last content seen or written by us

	watcher *fsnotify.Watcher
	events  chan storage.Event
	done    chan struct{}
	once    sync.Once
}

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)

// Open creates a Store backed by the JSON file at path. The file is created
// on first write; a missing file reads as empty. The parent directory must
// exist so it can be watched for external edits.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		events: make(chan storage.Event, 16),
		done:   make(chan struct{}),
	}
	snap, err := s.read()
	if err != nil {
		return nil, err
	}
	s.snapshot = snap

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("file store: watch %q: %w", filepath.Dir(path), err)
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

// read loads the document from disk. A missing file is an empty document.
func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %q: %w", s.path, err)
	}
	doc := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("file store: parse %q: %w", s.path, err)
		}
	}
	return doc, nil
}

// write persists doc atomically.
func (s *Store) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file store: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("file store: rename %q: %w", s.path, err)
	}
	return nil
}

// Get returns the raw JSON value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snapshot[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set writes value under key and persists the document.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		// Store non-JSON values as a JSON string.
		enc, err := json.Marshal(string(value))
		if err != nil {
			return fmt.Errorf("file store: encode value: %w", err)
		}
		value = enc
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := make(map[string]json.RawMessage, len(s.snapshot)+1)
	for k, v := range s.snapshot {
		doc[k] = v
	}
	doc[key] = json.RawMessage(value)
	if err := s.write(doc); err != nil {
		return err
	}
	s.snapshot = doc
	return nil
}

// Delete removes key and persists the document.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshot[key]; !ok {
		return nil
	}
	doc := make(map[string]json.RawMessage, len(s.snapshot))
	for k, v := range s.snapshot {
		if k != key {
			doc[k] = v
		}
	}
	if err := s.write(doc); err != nil {
		return err
	}
	s.snapshot = doc
	return nil
}

// Watch returns the external-change event channel.
func (s *Store) Watch() <-chan storage.Event {
	return s.events
}

// watchLoop reloads the document on filesystem events and emits one event
// per key whose value differs from the snapshot. Writes made through this
// handle update the snapshot first, so they do not echo.
func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != s.path || !ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file store watcher error", "path", s.path, "error", err)
		}
	}
}

func (s *Store) reload() {
	doc, err := s.read()
	if err != nil {
		slog.Warn("file store reload failed", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	var changed []string
	for k, v := range doc {
		if old, ok := s.snapshot[k]; !ok || string(old) != string(v) {
			changed = append(changed, k)
		}
	}
	for k := range s.snapshot {
		if _, ok := doc[k]; !ok {
			changed = append(changed, k)
		}
	}
	s.snapshot = doc
	s.mu.Unlock()

	for _, k := range changed {
		select {
		case s.events <- storage.Event{Key: k}:
		case <-s.done:
			return
		}
	}
}

// Close stops the watcher and closes the event channel.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		close(s.events)
	})
	return err
}
