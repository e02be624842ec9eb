package bus_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhkwon/voxbridge/internal/bus"
)

// startBus runs b's worker until the test ends.
func startBus(t *testing.T, b *bus.Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// recordingSurface captures broadcast deliveries.
type recordingSurface struct {
	id string

	mu       sync.Mutex
	messages []bus.Message
	err      error
}

func (s *recordingSurface) ID() string { return s.id }

func (s *recordingSurface) Deliver(m bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *recordingSurface) delivered() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *recordingSurface) waitFor(t *testing.T, typ bus.Type) bus.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range s.delivered() {
			if m.Type == typ {
				return m
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, have %v", typ, s.delivered())
	return bus.Message{}
}

// ── Validation and priorities ────────────────────────────────────────────

func TestValidateMessage_RequiresTypeAndTimestamp(t *testing.T) {
	t.Parallel()
	if err := bus.ValidateMessage(bus.Message{Timestamp: 1}); !errors.Is(err, bus.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage for missing type, got %v", err)
	}
	if err := bus.ValidateMessage(bus.Message{Type: bus.TypePlay}); !errors.Is(err, bus.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage for missing timestamp, got %v", err)
	}
	// Unknown but well-formed types pass validation; dispatch rejects them.
	if err := bus.ValidateMessage(bus.Message{Type: "MYSTERY", Timestamp: 1}); err != nil {
		t.Errorf("unknown type failed validation: %v", err)
	}
}

func TestTypePriority_ControlsOutrankPlayback(t *testing.T) {
	t.Parallel()
	cases := map[bus.Type]int{
		bus.TypeStop:             1,
		bus.TypePause:            1,
		bus.TypeResumeExecute:    1,
		bus.TypePlay:             2,
		bus.TypeSettingsUpdate:   3,
		bus.TypePermissionsCheck: 4,
		bus.TypeCompleted:        6,
		bus.Type("MYSTERY"):      6,
	}
	for typ, want := range cases {
		if got := typ.Priority(); got != want {
			t.Errorf("%s priority = %d, want %d", typ, got, want)
		}
	}
}

// ── Post and dispatch ────────────────────────────────────────────────────

func TestPost_DispatchesToRegisteredHandler(t *testing.T) {
	t.Parallel()
	b := bus.New()
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		return "spoken", nil
	})
	startBus(t, b)

	r := b.Post(context.Background(), bus.NewMessage(bus.TypePlay, nil, "test"))
	if !r.Success || r.Data != "spoken" {
		t.Errorf("unexpected reply %+v", r)
	}
}

func TestPost_InvalidMessageFailsWithoutDispatch(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var dispatched bool
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		dispatched = true
		return nil, nil
	})
	startBus(t, b)

	r := b.Post(context.Background(), bus.Message{Type: bus.TypePlay})
	if r.Success {
		t.Error("expected failure for a message without a timestamp")
	}
	if dispatched {
		t.Error("invalid message reached the handler")
	}
}

func TestPost_NoHandlerReply(t *testing.T) {
	t.Parallel()
	b := bus.New()
	startBus(t, b)

	r := b.Post(context.Background(), bus.NewMessage("MYSTERY", nil, "test"))
	if r.Success {
		t.Fatal("expected failure for an unhandled type")
	}
	if r.Error != "No handler for message type: MYSTERY" {
		t.Errorf("unexpected error text %q", r.Error)
	}
}

func TestPost_HandlerErrorBecomesFailureReply(t *testing.T) {
	t.Parallel()
	b := bus.New()
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		return nil, errors.New("No text provided")
	})
	startBus(t, b)

	r := b.Post(context.Background(), bus.NewMessage(bus.TypePlay, nil, "test"))
	if r.Success || r.Error != "No text provided" {
		t.Errorf("unexpected reply %+v", r)
	}
}

func TestPost_HandlerPanicIsContained(t *testing.T) {
	t.Parallel()
	b := bus.New()
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		panic("handler bug")
	})
	b.Handle(bus.TypeStop, func(ctx context.Context, m bus.Message) (any, error) {
		return "ok", nil
	})
	startBus(t, b)

	r := b.Post(context.Background(), bus.NewMessage(bus.TypePlay, nil, "test"))
	if r.Success {
		t.Fatal("expected a failure reply from a panicking handler")
	}
	if !strings.Contains(r.Error, "internal error handling TTS_PLAY") {
		t.Errorf("unexpected error text %q", r.Error)
	}

	// The worker survives and keeps dispatching.
	if r := b.Post(context.Background(), bus.NewMessage(bus.TypeStop, nil, "test")); !r.Success {
		t.Errorf("worker died after panic: %+v", r)
	}
}

func TestPost_ContextCancelUnblocksCaller(t *testing.T) {
	t.Parallel()
	b := bus.New()
	release := make(chan struct{})
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		<-release
		return nil, nil
	})
	startBus(t, b)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := b.Post(ctx, bus.NewMessage(bus.TypePlay, nil, "test"))
	if r.Success {
		t.Fatal("expected failure on context expiry")
	}
	if !strings.Contains(r.Error, "context deadline exceeded") {
		t.Errorf("unexpected error text %q", r.Error)
	}
}

// ── Deduplication ────────────────────────────────────────────────────────

func TestPost_DuplicateWithinWindowIsIgnored(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.WithDedupWindow(time.Second))
	var calls int
	var mu sync.Mutex
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "ok", nil
	})
	startBus(t, b)

	payload := bus.PlayPayload{Text: "hello"}
	ctx := context.Background()

	first := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))
	if !first.Success || first.Data != "ok" {
		t.Fatalf("first post failed: %+v", first)
	}
	second := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))
	if !second.Success || second.Data != "duplicate_ignored" {
		t.Fatalf("expected duplicate_ignored, got %+v", second)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestPost_DuplicateExpiresWithWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	b := bus.New(bus.WithDedupWindow(200*time.Millisecond), bus.WithClock(clock))
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		return "ok", nil
	})
	startBus(t, b)

	payload := bus.PlayPayload{Text: "hello"}
	ctx := context.Background()
	b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))

	nowMu.Lock()
	now = now.Add(300 * time.Millisecond)
	nowMu.Unlock()

	r := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))
	if r.Data == "duplicate_ignored" {
		t.Error("message outside the window was still treated as duplicate")
	}
}

func TestPost_SuppressedResendsDoNotExtendWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		nowMu.Lock()
		now = now.Add(d)
		nowMu.Unlock()
	}

	b := bus.New(bus.WithDedupWindow(time.Second), bus.WithClock(clock))
	var mu sync.Mutex
	calls := 0
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "ok", nil
	})
	startBus(t, b)

	// Resends spaced inside the window must dispatch again once a full
	// window has passed since the last dispatched one, not since the last
	// suppressed one.
	payload := bus.PlayPayload{Text: "hello"}
	ctx := context.Background()
	b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))

	advance(600 * time.Millisecond)
	if r := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup")); r.Data != "duplicate_ignored" {
		t.Fatalf("resend inside the window was dispatched: %+v", r)
	}

	advance(600 * time.Millisecond)
	r := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))
	if r.Data == "duplicate_ignored" {
		t.Error("resend a full window after the last dispatch was still suppressed")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestPost_DifferentSendersAreNotDuplicates(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.WithDedupWindow(time.Second))
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		return "ok", nil
	})
	startBus(t, b)

	payload := bus.PlayPayload{Text: "hello"}
	ctx := context.Background()
	b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "popup"))

	r := b.Post(ctx, bus.NewMessage(bus.TypePlay, payload, "shortcut"))
	if r.Data == "duplicate_ignored" {
		t.Error("distinct senders must not deduplicate against each other")
	}
}

// ── Priority ordering ────────────────────────────────────────────────────

func TestRun_StopOutranksQueuedPlay(t *testing.T) {
	t.Parallel()
	b := bus.New()

	var mu sync.Mutex
	var order []bus.Type
	note := func(t bus.Type) {
		mu.Lock()
		order = append(order, t)
		mu.Unlock()
	}

	blocker := make(chan struct{})
	b.Handle(bus.TypeCompleted, func(ctx context.Context, m bus.Message) (any, error) {
		<-blocker
		return "ok", nil
	})
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		note(bus.TypePlay)
		return "ok", nil
	})
	b.Handle(bus.TypeStop, func(ctx context.Context, m bus.Message) (any, error) {
		note(bus.TypeStop)
		return "ok", nil
	})
	startBus(t, b)

	ctx := context.Background()
	var wg sync.WaitGroup
	post := func(m bus.Message) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Post(ctx, m)
		}()
	}

	// Occupy the worker, then queue a play before a stop.
	post(bus.NewMessage(bus.TypeCompleted, nil, "a"))
	time.Sleep(20 * time.Millisecond)
	post(bus.NewMessage(bus.TypePlay, bus.PlayPayload{Text: "hi"}, "b"))
	time.Sleep(20 * time.Millisecond)
	post(bus.NewMessage(bus.TypeStop, nil, "c"))
	time.Sleep(20 * time.Millisecond)

	close(blocker)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != bus.TypeStop || order[1] != bus.TypePlay {
		t.Errorf("expected stop before play, got %v", order)
	}
}

func TestRun_SamePriorityIsFIFO(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.WithDedupWindow(100 * time.Millisecond))

	var mu sync.Mutex
	var order []string
	blocker := make(chan struct{})
	b.Handle(bus.TypeCompleted, func(ctx context.Context, m bus.Message) (any, error) {
		<-blocker
		return "ok", nil
	})
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		p, _ := m.Payload.(bus.PlayPayload)
		mu.Lock()
		order = append(order, p.Text)
		mu.Unlock()
		return "ok", nil
	})
	startBus(t, b)

	ctx := context.Background()
	var wg sync.WaitGroup
	post := func(m bus.Message) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Post(ctx, m)
		}()
	}

	post(bus.NewMessage(bus.TypeCompleted, nil, "a"))
	time.Sleep(20 * time.Millisecond)
	for _, text := range []string{"one", "two", "three"} {
		post(bus.NewMessage(bus.TypePlay, bus.PlayPayload{Text: text}, "b"))
		time.Sleep(10 * time.Millisecond)
	}

	close(blocker)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "one" || order[1] != "two" || order[2] != "three" {
		t.Errorf("expected FIFO within a priority, got %v", order)
	}
}

// ── Queue expiry ─────────────────────────────────────────────────────────

func TestRun_ExpiredMessageFailsInsteadOfDispatching(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	b := bus.New(bus.WithQueueExpiry(100*time.Millisecond), bus.WithClock(clock))
	var dispatched bool
	b.Handle(bus.TypePlay, func(ctx context.Context, m bus.Message) (any, error) {
		dispatched = true
		return "ok", nil
	})

	// Enqueue before the worker exists, then age the queue.
	replies := make(chan bus.Reply, 1)
	go func() {
		replies <- b.Post(context.Background(), bus.NewMessage(bus.TypePlay, nil, "test"))
	}()
	time.Sleep(20 * time.Millisecond)
	nowMu.Lock()
	now = now.Add(time.Second)
	nowMu.Unlock()

	startBus(t, b)

	r := <-replies
	if r.Success || r.Error != "message expired in queue" {
		t.Errorf("unexpected reply %+v", r)
	}
	if dispatched {
		t.Error("expired message reached the handler")
	}
}

// ── Broadcast ────────────────────────────────────────────────────────────

func TestBroadcast_ReachesEverySurface(t *testing.T) {
	t.Parallel()
	b := bus.New()
	first := &recordingSurface{id: "popup"}
	second := &recordingSurface{id: "panel"}
	b.RegisterSurface(first)
	b.RegisterSurface(second)

	b.Broadcast(bus.NewMessage(bus.TypeStarted, nil, "playback"))
	if len(first.delivered()) != 1 || len(second.delivered()) != 1 {
		t.Errorf("expected one delivery each, got %d and %d",
			len(first.delivered()), len(second.delivered()))
	}
}

func TestBroadcast_FailingSurfaceDoesNotStopFanOut(t *testing.T) {
	t.Parallel()
	b := bus.New()
	broken := &recordingSurface{id: "broken", err: errors.New("gone")}
	healthy := &recordingSurface{id: "healthy"}
	b.RegisterSurface(broken)
	b.RegisterSurface(healthy)

	b.Broadcast(bus.NewMessage(bus.TypeStarted, nil, "playback"))
	if len(healthy.delivered()) != 1 {
		t.Error("healthy surface missed the broadcast")
	}
}

func TestUnregisterSurface_StopsDelivery(t *testing.T) {
	t.Parallel()
	b := bus.New()
	s := &recordingSurface{id: "popup"}
	b.RegisterSurface(s)
	b.UnregisterSurface("popup")

	b.Broadcast(bus.NewMessage(bus.TypeStarted, nil, "playback"))
	if len(s.delivered()) != 0 {
		t.Error("unregistered surface still received a broadcast")
	}
}
