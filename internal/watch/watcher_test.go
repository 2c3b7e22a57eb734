package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, w *DirWatcher, path string) (op, hash string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-w.Events():
			if ch.Path == path {
				return ch.Op, ch.Hash
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for a change on %s", path)
		}
	}
}

func TestCreateEmitsHashedChange(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	op, hash := waitFor(t, w, path)
	if op != "create" && op != "write" {
		t.Errorf("Expected create/write, got %q", op)
	}
	if hash == "" {
		t.Error("Content changes must carry a hash")
	}
}

func TestNewDirectoryJoinsWatchSet(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directory.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "pkg.go")
	if err := os.WriteFile(path, []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, path)
}

func TestSkipDirsAreIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ignored := filepath.Join(dir, ".git", "HEAD")
	if err := os.WriteFile(ignored, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	watched := filepath.Join(dir, "visible.txt")
	if err := os.WriteFile(watched, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The watched file's event arrives; nothing for the ignored path
	// should precede it.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-w.Events():
			if ch.Path == ignored {
				t.Fatalf("Change inside a skipped directory leaked: %+v", ch)
			}
			if ch.Path == watched {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for the watched file change")
		}
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.mu.Lock()
	w.debounce = time.Second
	w.mu.Unlock()

	path := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, w, path)

	// The burst collapses to a single event inside the window.
	select {
	case ch := <-w.Events():
		if ch.Path == path {
			t.Errorf("Burst not debounced, second event: %+v", ch)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close must be a no-op: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("Events channel must be closed after Close")
	}
}
