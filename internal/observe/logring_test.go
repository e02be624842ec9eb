package observe_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dhkwon/voxbridge/internal/observe"
	"github.com/dhkwon/voxbridge/pkg/storage/memory"
)

func newRing() (*observe.RingHandler, *slog.Logger) {
	h := observe.NewRingHandler(slog.NewTextHandler(io.Discard, nil))
	return h, slog.New(h)
}

func TestRingHandler_TailReturnsOldestFirst(t *testing.T) {
	t.Parallel()
	h, log := newRing()

	log.Info("first")
	log.Warn("second")
	log.Error("third")

	tail := h.Tail(10)
	if len(tail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tail))
	}
	if tail[0].Message != "first" || tail[2].Message != "third" {
		t.Errorf("unexpected order: %+v", tail)
	}
	if tail[1].Level != "WARN" {
		t.Errorf("unexpected level %q", tail[1].Level)
	}
}

func TestRingHandler_TailHonorsLimit(t *testing.T) {
	t.Parallel()
	h, log := newRing()
	for i := 0; i < 10; i++ {
		log.Info(fmt.Sprintf("msg %d", i))
	}

	tail := h.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tail))
	}
	if tail[0].Message != "msg 7" || tail[2].Message != "msg 9" {
		t.Errorf("unexpected tail %+v", tail)
	}
}

func TestRingHandler_WrapsAroundCapacity(t *testing.T) {
	t.Parallel()
	h, log := newRing()
	for i := 0; i < 1200; i++ {
		log.Info(fmt.Sprintf("msg %d", i))
	}

	tail := h.Tail(2000)
	if len(tail) != 1000 {
		t.Fatalf("expected the ring capped at 1000, got %d", len(tail))
	}
	if tail[0].Message != "msg 200" || tail[999].Message != "msg 1199" {
		t.Errorf("unexpected boundary entries %q .. %q", tail[0].Message, tail[999].Message)
	}
}

func TestRingHandler_RecordsAttrs(t *testing.T) {
	t.Parallel()
	h, log := newRing()
	log.Info("playback failed", "engine", "espeak")

	tail := h.Tail(1)
	if len(tail) != 1 || tail[0].Attrs != "engine=espeak" {
		t.Errorf("unexpected entry %+v", tail)
	}
}

func TestRingHandler_DerivedLoggersShareTheRing(t *testing.T) {
	t.Parallel()
	h, log := newRing()

	log.With("component", "bus").Info("from child")
	log.WithGroup("tts").Info("from group")

	if got := len(h.Tail(10)); got != 2 {
		t.Errorf("derived loggers bypassed the ring, got %d entries", got)
	}
}

func TestRingHandler_PersistWritesTail(t *testing.T) {
	t.Parallel()
	h, log := newRing()
	store := memory.New()
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		log.Info(fmt.Sprintf("msg %d", i))
	}
	if err := h.Persist(ctx, store); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	data, err := store.Get(ctx, "logTail")
	if err != nil {
		t.Fatalf("tail not stored: %v", err)
	}
	var entries []observe.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("tail unreadable: %v", err)
	}
	if len(entries) != 100 {
		t.Errorf("expected the last 100 entries, got %d", len(entries))
	}
	if entries[99].Message != "msg 149" {
		t.Errorf("unexpected newest entry %q", entries[99].Message)
	}
}
