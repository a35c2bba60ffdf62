package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"traffic-router/internal/common/logging"
)

// DefaultDebounce is how long the file watcher waits for a burst of writes
// to settle before reloading
const DefaultDebounce = 250 * time.Millisecond

// FileWatcher reloads the routing document into a Store when its file
// changes. It watches the parent directory so editors that replace the file
// by rename are seen too.
type FileWatcher struct {
	path     string
	store    *Store
	debounce time.Duration
	logger   logging.Logger
}

// NewFileWatcher creates a watcher for path. A non-positive debounce uses
// DefaultDebounce.
func NewFileWatcher(path string, store *Store, debounce time.Duration) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &FileWatcher{
		path:     abs,
		store:    store,
		debounce: debounce,
		logger:   logging.Component("config-watcher").WithFields(logging.String("file", abs)),
	}
}

// Load reads the file once and applies it
func (w *FileWatcher) Load() (*Snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("read routing document: %w", err)
	}
	return w.store.ApplyBytes(data, "file:"+w.path)
}

// Run watches the file until ctx is done. Rejected reloads are logged by the
// store and leave the active snapshot in place.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("Watching routing document")

	var debounceTimer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if _, err := w.Load(); err != nil {
				w.logger.Warn("Routing document reload failed", logging.Err(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", logging.Err(err))
		}
	}
}
