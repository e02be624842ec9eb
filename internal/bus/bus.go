package bus

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhkwon/voxbridge/internal/observe"
)

const (
	// DefaultDedupWindow is how long an identical message is treated as a
	// duplicate of a previous one.
	DefaultDedupWindow = 1000 * time.Millisecond

	minDedupWindow = 100 * time.Millisecond
	maxDedupWindow = 5 * time.Second

	// queueExpiry drops messages that sat undispatched for too long.
	queueExpiry = 30 * time.Second
)

// Handler processes one message and returns the reply data or an error.
// The worker converts errors and panics into failure replies.
type Handler func(ctx context.Context, m Message) (any, error)

// Surface is a registered delivery target for broadcast messages.
type Surface interface {
	// ID identifies the surface for registration and logging.
	ID() string

	// Deliver hands a broadcast message to the surface. Deliver must not
	// block; failures are logged and do not affect other surfaces.
	Deliver(m Message) error
}

// pending is one queued message awaiting dispatch.
type pending struct {
	msg      Message
	priority int
	seq      uint64
	enqueued time.Time
	reply    chan Reply
}

// pendingHeap orders by priority, then arrival order within a priority.
type pendingHeap []*pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)        { *h = append(*h, x.(*pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}

// Bus is the message router. Register handlers and surfaces, start Run on
// its own goroutine, then Post from any goroutine.
type Bus struct {
	mu       sync.Mutex
	queue    pendingHeap
	seq      uint64
	wake     chan struct{}
	handlers map[Type]Handler
	surfaces map[string]Surface

	dedup   *dedupeCache
	window  time.Duration
	expiry  time.Duration
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Bus].
type Option func(*Bus)

// WithDedupWindow sets the duplicate-suppression window, clamped to
// [100ms, 5s].
func WithDedupWindow(d time.Duration) Option {
	return func(b *Bus) { b.window = clampDur(d, minDedupWindow, maxDedupWindow) }
}

// WithMetrics attaches message instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithQueueExpiry overrides how long a message may wait in the queue.
func WithQueueExpiry(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.expiry = d
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New builds an idle bus. Call Run to start dispatching.
func New(opts ...Option) *Bus {
	b := &Bus{
		wake:     make(chan struct{}, 1),
		handlers: make(map[Type]Handler),
		surfaces: make(map[string]Surface),
		window:   DefaultDedupWindow,
		expiry:   queueExpiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.dedup = newDedupeCache(b.window, b.now)
	return b
}

// Handle registers the handler for a message type, replacing any previous
// registration.
func (b *Bus) Handle(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = h
}

// RegisterSurface adds a broadcast target.
func (b *Bus) RegisterSurface(s Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surfaces[s.ID()] = s
}

// UnregisterSurface removes a broadcast target by ID.
func (b *Bus) UnregisterSurface(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.surfaces, id)
}

// Post validates, deduplicates, and enqueues a message, then waits for the
// worker's reply. Duplicate messages inside the window are acknowledged
// with "duplicate_ignored" without reaching a handler.
func (b *Bus) Post(ctx context.Context, m Message) Reply {
	if err := ValidateMessage(m); err != nil {
		b.record(ctx, m.Type, "invalid")
		return fail(err.Error())
	}

	b.mu.Lock()
	if b.dedup.isDuplicate(m) {
		b.mu.Unlock()
		b.record(ctx, m.Type, "duplicate")
		if b.metrics != nil {
			b.metrics.DedupHits.Add(ctx, 1)
		}
		return ok("duplicate_ignored")
	}
	p := &pending{
		msg:      m,
		priority: m.Type.Priority(),
		seq:      b.seq,
		enqueued: b.now(),
		reply:    make(chan Reply, 1),
	}
	b.seq++
	heap.Push(&b.queue, p)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.QueueDepth.Add(ctx, 1)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-p.reply:
		return r
	case <-ctx.Done():
		return fail("bus: " + ctx.Err().Error())
	}
}

// Broadcast delivers a message to every registered surface, best effort.
// Delivery failures are logged and do not stop the fan-out.
func (b *Bus) Broadcast(m Message) {
	b.mu.Lock()
	targets := make([]Surface, 0, len(b.surfaces))
	for _, s := range b.surfaces {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if err := s.Deliver(m); err != nil {
			slog.Warn("broadcast delivery failed", "surface", s.ID(), "type", m.Type, "error", err)
		}
	}
}

// Run dispatches queued messages until ctx ends. It must run on exactly
// one goroutine.
func (b *Bus) Run(ctx context.Context) error {
	for {
		p := b.pop()
		if p == nil {
			select {
			case <-ctx.Done():
				b.drainExpired()
				return ctx.Err()
			case <-b.wake:
				continue
			}
		}

		if b.metrics != nil {
			b.metrics.QueueDepth.Add(ctx, -1)
		}
		if b.now().Sub(p.enqueued) > b.expiry {
			slog.Warn("message expired in queue", "type", p.msg.Type, "waited", b.now().Sub(p.enqueued))
			b.record(ctx, p.msg.Type, "timeout")
			p.reply <- fail("message expired in queue")
			continue
		}
		p.reply <- b.dispatch(ctx, p.msg)
	}
}

// pop removes the highest-priority pending message, or nil when the queue
// is empty.
func (b *Bus) pop() *pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	return heap.Pop(&b.queue).(*pending)
}

// drainExpired answers everything still queued at shutdown so posters do
// not hang on the reply channel.
func (b *Bus) drainExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) > 0 {
		p := heap.Pop(&b.queue).(*pending)
		p.reply <- fail("bus: shutting down")
	}
}

// dispatch runs the registered handler for one message, converting errors
// and panics into failure replies.
func (b *Bus) dispatch(ctx context.Context, m Message) (r Reply) {
	b.mu.Lock()
	h := b.handlers[m.Type]
	b.mu.Unlock()

	if h == nil {
		b.record(ctx, m.Type, "no_handler")
		return fail(fmt.Sprintf("No handler for message type: %s", m.Type))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panicked", "type", m.Type, "panic", rec)
			b.record(ctx, m.Type, "panic")
			r = fail(fmt.Sprintf("internal error handling %s", m.Type))
		}
	}()

	data, err := h(ctx, m)
	if err != nil {
		b.record(ctx, m.Type, "error")
		return fail(err.Error())
	}
	b.record(ctx, m.Type, "ok")
	return ok(data)
}

func (b *Bus) record(ctx context.Context, t Type, status string) {
	if b.metrics != nil {
		b.metrics.RecordBusMessage(ctx, string(t), status)
	}
}

func clampDur(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
