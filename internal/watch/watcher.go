// Package watch emits hashed file-change events for a project's working
// directory. The orchestrator does not depend on it; the REPL surfaces
// the stream so an operator can see what the implementer touched.
package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// defaultDebounce coalesces the rapid write bursts editors produce.
const defaultDebounce = 500 * time.Millisecond

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".overseer": true,
}

// DirWatcher is an fsnotify-backed types.Watcher over a directory tree.
type DirWatcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	root     string
	events   chan types.Change
	debounce time.Duration
	lastSeen map[string]time.Time
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

var _ types.Watcher = (*DirWatcher)(nil)

// New starts watching root and all its subdirectories.
func New(root string) (*DirWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &DirWatcher{
		fs:       fs,
		root:     root,
		events:   make(chan types.Change, 128),
		debounce: defaultDebounce,
		lastSeen: make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fs.Close()
		return nil, err
	}

	go w.run()
	logging.Watch("Watching %s", root)
	return w, nil
}

// Events returns the change stream. It is closed by Close.
func (w *DirWatcher) Events() <-chan types.Change { return w.events }

// Close stops the watcher and closes the event channel.
func (w *DirWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	err := w.fs.Close()
	<-w.done
	close(w.events)
	return err
}

func (w *DirWatcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Warn("Watcher error: %v", err)
		}
	}
}

func (w *DirWatcher) handle(ev fsnotify.Event) {
	if w.skip(ev.Name) {
		return
	}

	// New directories join the watch set.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				logging.Get(logging.CategoryWatch).Warn("Watch add failed for %s: %v", ev.Name, err)
			}
			return
		}
	}

	if !w.debounced(ev.Name) {
		return
	}

	change := types.Change{
		Path: ev.Name,
		Op:   opString(ev.Op),
		At:   time.Now(),
	}
	if change.Op == "create" || change.Op == "write" {
		change.Hash = hashFile(ev.Name)
	}

	select {
	case w.events <- change:
	default:
		logging.Get(logging.CategoryWatch).Warn("Change queue full, dropping %s", ev.Name)
	}
}

// debounced reports whether enough time has passed since the last event
// for this path.
func (w *DirWatcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < w.debounce {
		return false
	}
	w.lastSeen[path] = now
	return true
}

func (w *DirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skip(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *DirWatcher) skip(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	}
	return "chmod"
}

func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
