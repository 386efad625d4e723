package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked with the path of a watched file after it changes.
// It is responsible for re-reading and re-applying that file's contents
// (e.g. re-parsing an ACL rule set or a schema directory); a returned error
// is logged but does not stop the watcher.
type ReloadFunc func(path string) error

// Watcher watches one or more configuration files for changes and triggers
// a caller-supplied reload callback, debounced so that editors writing via
// rename-and-replace don't trigger repeated reloads. It reloads
// configuration sources only — handler code is never hot-reloaded.
type Watcher struct {
	fsw          *fsnotify.Watcher
	logger       *slog.Logger
	debounce     time.Duration
	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	paths        map[string]ReloadFunc
	timers       map[string]*time.Timer
}

// NewWatcher creates a Watcher with the given debounce window. A nil logger
// falls back to slog.Default().
func NewWatcher(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		fsw:      fsw,
		logger:   logger,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		paths:    make(map[string]ReloadFunc),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch registers path for change notification, invoking fn after each
// write/create event settles. Watch may be called before or after Start;
// the underlying directory is added to the watch set immediately.
func (w *Watcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.paths[abs] = fn
	w.mu.Unlock()

	return w.fsw.Add(filepath.Dir(abs))
}

// Start begins the watch loop in a background goroutine. Calling Start
// twice is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) scheduleReload(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}
	w.mu.Lock()
	fn, tracked := w.paths[abs]
	if !tracked {
		w.mu.Unlock()
		return
	}
	if t, exists := w.timers[abs]; exists {
		t.Stop()
	}
	w.timers[abs] = time.AfterFunc(w.debounce, func() { w.runReload(abs, fn) })
	w.mu.Unlock()
}

func (w *Watcher) runReload(path string, fn ReloadFunc) {
	start := time.Now()
	if err := fn(path); err != nil {
		w.logger.Error("config reload failed", "path", path, "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Info("config reload completed", "path", path, "duration", time.Since(start))
}
