package definition

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports bundle documents created or rewritten under a directory.
type Watcher struct {
	logger  zerolog.Logger
	delay   time.Duration
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
}

// NewWatcher creates a bundle directory watcher. Events for the same path within
// delay are collapsed into one.
func NewWatcher(logger zerolog.Logger, delay time.Duration) *Watcher {
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Watcher{
		logger: logger.With().Str("component", "bundle-watcher").Logger(),
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// Watch starts watching dir and calls onChange with the path of each changed bundle
// document until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, dir string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.watcher = watcher

	go w.processEvents(ctx, onChange)

	w.logger.Info().Str("dir", dir).Msg("Started watching bundle directory")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, onChange func(path string)) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsBundleFile(filepath.Base(event.Name)) {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Bundle file changed")
			w.debounce(event.Name, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) debounce(path string, onChange func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		onChange(path)
	})
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
