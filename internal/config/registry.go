package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dhkwon/voxbridge/pkg/speech"
	"github.com/dhkwon/voxbridge/pkg/storage"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// Registry maps engine and driver names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]func(TTSConfig) (speech.Facility, error)
	stores  map[Driver]func(path string) (storage.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]func(TTSConfig) (speech.Facility, error)),
		stores:  make(map[Driver]func(path string) (storage.Store, error)),
	}
}

// RegisterEngine registers a speech engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory func(TTSConfig) (speech.Facility, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// RegisterStore registers a storage backend factory for a driver.
func (r *Registry) RegisterStore(d Driver, factory func(path string) (storage.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[d] = factory
}

// CreateEngine instantiates the speech engine selected by cfg.Engine.
// An empty or "none" engine yields a nil facility without error; the
// playback controller treats that as speech-unavailable.
func (r *Registry) CreateEngine(cfg TTSConfig) (speech.Facility, error) {
	if cfg.Engine == "" || cfg.Engine == "none" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.engines[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateStore instantiates a storage backend. An empty driver selects
// memory.
func (r *Registry) CreateStore(d Driver, path string) (storage.Store, error) {
	if d == "" {
		d = DriverMemory
	}
	r.mu.RLock()
	factory, ok := r.stores[d]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage/%q", ErrNotRegistered, d)
	}
	return factory(path)
}
