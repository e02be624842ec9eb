package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

// Cache TTL bounds. Values outside the range are clamped at construction.
const (
	minCacheTTL     = 10 * time.Second
	maxCacheTTL     = 5 * time.Minute
	defaultCacheTTL = 30 * time.Second
)

// Errors surfaced at the Store operation boundary.
var (
	// ErrInvalidJSON reports malformed persisted settings.
	ErrInvalidJSON = errors.New("settings: invalid JSON format")

	// ErrPersistenceFailed reports that the backing store refused a write.
	ErrPersistenceFailed = errors.New("settings: persistence failed")

	// ErrStoreUnavailable reports a failed read from the backing store.
	// Load still returns usable defaults alongside this error.
	ErrStoreUnavailable = errors.New("settings: store unavailable")
)

// InvalidError reports validation failures for a candidate document.
type InvalidError struct {
	// Fields lists one message per violation, in document order.
	Fields []string
}

func (e *InvalidError) Error() string {
	return "settings: invalid candidate: " + strings.Join(e.Fields, "; ")
}

// Store owns the persisted settings document and a TTL read cache.
//
// All exported methods are safe for concurrent use. Reads within the TTL
// are served from cache; concurrent cache misses collapse into a single
// backing-store read.
type Store struct {
	backend storage.Store
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	cached *Settings
	expiry time.Time

	group singleflight.Group
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets the cache lifetime, clamped into [10s, 5m].
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d < minCacheTTL {
			d = minCacheTTL
		}
		if d > maxCacheTTL {
			d = maxCacheTTL
		}
		s.ttl = d
	}
}

// WithClock overrides the wall clock, for cache-expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a settings store over the given backend.
func NewStore(backend storage.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     defaultCacheTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the current settings. Within the cache TTL the cached value
// is returned without touching the backend. On a backend read failure the
// canonical defaults are returned together with a recoverable error
// wrapping [ErrStoreUnavailable] or [ErrInvalidJSON]; callers may use the
// returned settings regardless.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Before(s.expiry) {
		cached := *s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("load", func() (any, error) {
		return s.loadUncached(ctx)
	})
	if err != nil {
		return Defaults(), err
	}
	return v.(Settings), nil
}

func (s *Store) loadUncached(ctx context.Context) (Settings, error) {
	data, err := s.backend.Get(ctx, storage.KeyUserSettings)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		merged := Defaults()
		s.cache(merged)
		return merged, nil
	case err != nil:
		return Defaults(), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	partial, err := Decode(data)
	if err != nil {
		return Defaults(), err
	}
	merged := MergeWithDefaults(partial)
	s.cache(merged)
	return merged, nil
}

// Save validates candidate, merges it over defaults, persists the result,
// refreshes the cache, and returns the saved document. The cache is only
// updated after a successful write.
func (s *Store) Save(ctx context.Context, candidate Partial) (Settings, error) {
	if errs := Validate(candidate); len(errs) > 0 {
		return Settings{}, &InvalidError{Fields: errs}
	}

	merged := MergeWithDefaults(candidate)
	data, err := Encode(merged)
	if err != nil {
		return Settings{}, err
	}
	if err := s.backend.Set(ctx, storage.KeyUserSettings, data); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	s.cache(merged)
	return merged, nil
}

// UpdatePartial overlays patch onto the currently loaded settings and saves
// the result.
func (s *Store) UpdatePartial(ctx context.Context, patch Partial) (Settings, error) {
	current, err := s.Load(ctx)
	if err != nil {
		// Defaults were returned; apply the patch to those.
		slog.Warn("settings load failed during partial update, patching defaults", "error", err)
	}
	return s.Save(ctx, AsPartial(Apply(current, patch)))
}

// Reset persists and returns the canonical defaults.
func (s *Store) Reset(ctx context.Context) (Settings, error) {
	return s.Save(ctx, AsPartial(Defaults()))
}

// Invalidate drops the cached value. Called when the backing store reports
// an external change to the settings key.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) cache(v Settings) {
	s.mu.Lock()
	s.cached = &v
	s.expiry = s.now().Add(s.ttl)
	s.mu.Unlock()
}
