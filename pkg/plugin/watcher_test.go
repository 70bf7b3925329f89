package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtensions(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{"lua", ".lua"},
		{"javascript", ".js"},
		{"starlark", ".star"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			exts := Extensions(tt.backend)
			if len(exts) == 0 || exts[0] != tt.want {
				t.Errorf("Extensions(%q) = %v, want %s first", tt.backend, exts, tt.want)
			}
		})
	}
	if exts := Extensions("cobol"); exts != nil {
		t.Errorf("Extensions(cobol) = %v, want nil", exts)
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roof.lua")
	if err := os.WriteFile(path, []byte("-- v0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 8)
	w := NewWatcher(WatcherConfig{
		Extensions: Extensions("lua"),
		Debounce:   50 * time.Millisecond,
	})
	if err := w.Watch(ctx, []string{dir}, func(_ context.Context, p string) {
		changes <- p
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	for i := range 3 {
		if err := os.WriteFile(path, []byte("-- v"+string(rune('1'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Ignored extension.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if got != path {
			t.Errorf("changed path = %q, want %q", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case got := <-changes:
		t.Errorf("unexpected second change %q", got)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchNoPaths(t *testing.T) {
	w := NewWatcher(WatcherConfig{})
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, func(context.Context, string) {})
	if err == nil {
		t.Fatal("Watch() with no usable paths succeeded")
	}
}

func TestDeliverAfterLoopStops(t *testing.T) {
	w := NewWatcher(WatcherConfig{Debounce: time.Millisecond})
	for range cap(w.fired) {
		w.fired <- "queued.lua"
	}
	// The loop exited because the fsnotify channels closed; ctx is still live.
	close(w.done)

	returned := make(chan struct{})
	go func() {
		w.deliver(context.Background(), "late.lua")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("deliver blocked after the event loop stopped")
	}
}

func TestWatcherStopsWhenEventsClose(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(WatcherConfig{Debounce: time.Hour})
	if err := w.Watch(context.Background(), []string{dir}, func(context.Context, string) {}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pending.lua"), []byte("-- v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_ = w.watcher.Close()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after its event channels closed")
	}
}
