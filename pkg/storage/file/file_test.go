package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhkwon/voxbridge/pkg/storage"
	"github.com/dhkwon/voxbridge/pkg/storage/file"
)

func openStore(t *testing.T, path string) *file.Store {
	t.Helper()
	s, err := file.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t, filepath.Join(t.TempDir(), "settings.json"))
	ctx := context.Background()

	if err := s.Set(ctx, storage.KeyUserSettings, []byte(`{"tts":{"rate":1.5}}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, storage.KeyUserSettings)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"tts":{"rate":1.5}}` {
		t.Errorf("unexpected value %s", got)
	}
}

func TestStore_MissingKey(t *testing.T) {
	t.Parallel()
	s := openStore(t, filepath.Join(t.TempDir(), "settings.json"))

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()

	first := openStore(t, path)
	if err := first.Set(ctx, storage.KeyLastText, []byte(`"annyeong"`)); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := openStore(t, path)
	got, err := second.Get(ctx, storage.KeyLastText)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != `"annyeong"` {
		t.Errorf("unexpected value %s", got)
	}
}

func TestStore_DeleteRemovesKey(t *testing.T) {
	t.Parallel()
	s := openStore(t, filepath.Join(t.TempDir(), "settings.json"))
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestStore_NonJSONValueIsWrappedAsString(t *testing.T) {
	t.Parallel()
	s := openStore(t, filepath.Join(t.TempDir(), "settings.json"))
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("plain text")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `"plain text"` {
		t.Errorf("unexpected stored value %s", got)
	}
}

func TestStore_ExternalEditEmitsEvent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	s := openStore(t, path)
	ctx := context.Background()

	if err := s.Set(ctx, storage.KeyUserSettings, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	// A second process rewrites the document.
	if err := os.WriteFile(path, []byte(`{"userSettings":{"a":2}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-s.Watch():
		if ev.Key != storage.KeyUserSettings {
			t.Errorf("unexpected event key %q", ev.Key)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("external edit never produced an event")
	}

	got, err := s.Get(ctx, storage.KeyUserSettings)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("snapshot not reloaded, got %s", got)
	}
}

func TestStore_OwnWritesDoNotEcho(t *testing.T) {
	t.Parallel()
	s := openStore(t, filepath.Join(t.TempDir(), "settings.json"))
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-s.Watch():
		t.Errorf("own write echoed as event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
