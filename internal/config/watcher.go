package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the Holder when one of the prompt files changes on disk.
// It watches the parent directories so that editors which replace files via rename are picked up.
type Watcher struct {
	holder   *Holder
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending time.Time
	reloads int
	doneCh  chan struct{}
}

func NewWatcher(holder *Holder, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	cfg := holder.Current().Config
	w := &Watcher{
		holder:   holder,
		fsw:      fsw,
		files:    make(map[string]bool),
		debounce: 250 * time.Millisecond,
		logger:   logger,
		doneCh:   make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range []string{cfg.SystemPromptPath, cfg.ValidatorPromptPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("prompt directory not watched", "dir", dir, "error", err)
			continue
		}
		logger.Info("watching prompt directory", "dir", dir)
	}

	return w, nil
}

// Start runs the event loop in a goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Done is closed once the event loop has exited and the fsnotify watcher is closed.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

// Reloads returns how many reloads the watcher has triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fsw.Close()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("prompt watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		abs = event.Name
	}
	if !w.files[abs] {
		return
	}

	w.logger.Debug("prompt file changed", "path", abs, "op", event.Op.String())
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// flush reloads once the last event has settled past the debounce window.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.reloads++
	w.mu.Unlock()

	w.holder.Reload()
}
