package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhkwon/voxbridge/pkg/storage"
)

// Retention limits for the log ring.
const (
	ringCapacity  = 1000
	persistedTail = 100
)

// logTailKey is the local-store key holding the persisted log tail.
const logTailKey = "logTail"

// Entry is one retained log record.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Attrs   string    `json:"attrs,omitempty"`
}

// RingHandler is a [slog.Handler] that forwards records to an inner handler
// while retaining the most recent entries in a fixed-size ring. The tail of
// the ring can be persisted to a [storage.Store] for post-mortem reading.
type RingHandler struct {
	inner slog.Handler

	mu      sync.Mutex
	entries []Entry // circular, valid up to count
	next    int
	count   int
}

// Compile-time interface assertion.
var _ slog.Handler = (*RingHandler)(nil)

// NewRingHandler wraps inner with ring retention.
func NewRingHandler(inner slog.Handler) *RingHandler {
	return &RingHandler{
		inner:   inner,
		entries: make([]Entry, ringCapacity),
	}
}

// Enabled defers to the inner handler.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// record appends r to the ring.
func (h *RingHandler) record(r slog.Record) {
	var attrs string
	r.Attrs(func(a slog.Attr) bool {
		if attrs != "" {
			attrs += " "
		}
		attrs += a.String()
		return true
	})

	h.mu.Lock()
	h.entries[h.next] = Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
	h.mu.Unlock()
}

// Handle retains the record and forwards it to the inner handler.
func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.record(r)
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler sharing the same ring.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &shareRing{ring: h, inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a handler sharing the same ring.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	return &shareRing{ring: h, inner: h.inner.WithGroup(name)}
}

// shareRing forwards to a derived inner handler while writing into the
// parent's ring.
type shareRing struct {
	ring  *RingHandler
	inner slog.Handler
}

func (s *shareRing) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s *shareRing) Handle(ctx context.Context, r slog.Record) error {
	s.ring.record(r)
	return s.inner.Handle(ctx, r)
}

func (s *shareRing) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &shareRing{ring: s.ring, inner: s.inner.WithAttrs(attrs)}
}

func (s *shareRing) WithGroup(name string) slog.Handler {
	return &shareRing{ring: s.ring, inner: s.inner.WithGroup(name)}
}

// Tail returns up to n of the most recent entries, oldest first.
func (h *RingHandler) Tail(n int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > h.count {
		n = h.count
	}
	out := make([]Entry, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}

// Persist writes the most recent entries (up to 100) to store under the
// log-tail key.
func (h *RingHandler) Persist(ctx context.Context, store storage.Store) error {
	tail := h.Tail(persistedTail)
	data, err := json.Marshal(tail)
	if err != nil {
		return fmt.Errorf("observe: encode log tail: %w", err)
	}
	if err := store.Set(ctx, logTailKey, data); err != nil {
		return fmt.Errorf("observe: persist log tail: %w", err)
	}
	return nil
}
