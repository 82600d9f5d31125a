// Package watch notices edits to the first-boot file and reports them after
// a quiet period.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"chefq/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc is called once per settled burst of events. Calls are serialised.
type ChangeFunc func(ctx context.Context)

// Stats tracks watcher activity.
type Stats struct {
	Created       int
	Modified      int
	Removed       int
	Changes       int // ChangeFunc invocations
	Errors        int
	LastEventTime time.Time
	LastEventType string
}

// Watcher watches a single file. It watches the parent directory so the file
// can be created, replaced or removed while watching.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	path     string
	dir      string
	onChange ChangeFunc
	debounce time.Duration
	pending  time.Time // zero when nothing is pending
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stats    Stats
	logger   *zap.Logger
}

// New creates a watcher for path. A debounce of zero fires on the next tick.
func New(path string, debounce time.Duration, onChange ChangeFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		path:     abs,
		dir:      filepath.Dir(abs),
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logging.Get(logging.CategoryWatch),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("watching first-boot file", zap.String("path", w.path))
	go w.run(ctx)
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("error closing watcher", zap.Error(err))
	}
	w.logger.Debug("watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.fireIfSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	var eventType string
	switch {
	case event.Has(fsnotify.Create):
		eventType = "create"
	case event.Has(fsnotify.Write):
		eventType = "modify"
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		eventType = "remove"
	default:
		return
	}

	w.logger.Debug("first-boot event", zap.String("type", eventType))

	w.mu.Lock()
	defer w.mu.Unlock()
	switch eventType {
	case "create":
		w.stats.Created++
	case "modify":
		w.stats.Modified++
	case "remove":
		w.stats.Removed++
	}
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventType = eventType
	w.pending = w.stats.LastEventTime
}

func (w *Watcher) fireIfSettled(ctx context.Context) {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.stats.Changes++
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(ctx)
	}
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
