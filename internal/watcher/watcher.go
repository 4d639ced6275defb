// Package watcher reacts to deletion or modification of a file or directory
// the worker depends on, such as the upload directory or the settings file.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces bursts of events on the target.
const DefaultDebounce = 100 * time.Millisecond

// Handlers are invoked after the debounce window. Either may be nil.
type Handlers struct {
	// OnRemove runs when the target (or its parent directory) is removed
	// and not recreated within the debounce window.
	OnRemove func()
	// OnChange runs when the target is written or recreated.
	OnChange func()
}

// Watcher monitors a single path. It watches the parent directory since
// fsnotify cannot watch a path that does not exist yet.
type Watcher struct {
	handlers   Handlers
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	targetPath string
	parentPath string
	debounce   time.Duration
	mu         sync.Mutex
	running    bool
}

// New creates a Watcher for targetPath.
func New(targetPath string, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	target := filepath.Clean(targetPath)

	return &Watcher{
		targetPath: target,
		parentPath: filepath.Dir(target),
		handlers:   handlers,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   DefaultDebounce,
	}, nil
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

type pending int

const (
	pendingNone pending = iota
	pendingRemove
	pendingChange
)

func (w *Watcher) watchLoop() {
	var (
		timer *time.Timer
		state pending
		mu    sync.Mutex
	)

	schedule := func(next pending) {
		mu.Lock()
		defer mu.Unlock()
		state = next
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			fire := state
			state = pendingNone
			mu.Unlock()
			w.fire(fire)
		})
	}

	for {
		select {
		case <-w.ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case (path == w.parentPath || path == w.targetPath) && event.Has(fsnotify.Remove),
				path == w.targetPath && event.Has(fsnotify.Rename):
				log.Info().Str("path", path).Msg("Watched path removed")
				schedule(pendingRemove)

			case path == w.parentPath && event.Has(fsnotify.Create):
				log.Info().Str("path", w.parentPath).Msg("Parent directory recreated, re-establishing watch")
				_ = w.addWatch()

			case path == w.targetPath && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)):
				// A recreate inside the debounce window cancels a pending removal.
				schedule(pendingChange)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire(p pending) {
	switch p {
	case pendingRemove:
		log.Info().Str("path", w.targetPath).Msg("Triggering removal callback")
		if w.handlers.OnRemove != nil {
			w.handlers.OnRemove()
		}
		// The parent may have been recreated by the callback.
		go func() {
			time.Sleep(5 * w.debounce)
			if err := w.addWatch(); err != nil {
				log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to re-establish watch after removal")
			}
		}()
	case pendingChange:
		log.Debug().Str("path", w.targetPath).Msg("Triggering change callback")
		if w.handlers.OnChange != nil {
			w.handlers.OnChange()
		}
	}
}

// EnsureDir returns an OnRemove handler that recreates dir.
func EnsureDir(dir string) func() {
	return func() {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error().Err(err).Str("path", dir).Msg("Failed to recreate directory")
			return
		}
		log.Info().Str("path", dir).Msg("Directory recreated")
	}
}
