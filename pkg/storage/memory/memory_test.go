package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dhkwon/voxbridge/pkg/storage"
	"github.com/dhkwon/voxbridge/pkg/storage/memory"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `1` {
		t.Errorf("unexpected value %s", got)
	}
	if s.SetCalls != 1 {
		t.Errorf("SetCalls = %d, want 1", s.SetCalls)
	}
}

func TestStore_MissingKey(t *testing.T) {
	t.Parallel()
	s := memory.New()
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ValuesAreCopied(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	in := []byte(`abc`)
	if err := s.Set(ctx, "k", in); err != nil {
		t.Fatal(err)
	}
	in[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased the caller's slice: %s", got)
	}
	got[0] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased the stored slice: %s", again)
	}
}

func TestStore_EmitDeliversWatchEvent(t *testing.T) {
	t.Parallel()
	s := memory.New()
	s.Emit(storage.KeyUserSettings)

	select {
	case ev := <-s.Watch():
		if ev.Key != storage.KeyUserSettings {
			t.Errorf("unexpected key %q", ev.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// Emit after close must not panic.
	s.Emit("k")
}
