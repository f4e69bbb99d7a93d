package lore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a Store whenever its lorebook file changes on disk.
// The parent directory is watched so that editors which save by rename are
// picked up too.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	onLoad   func(blob string)
	log      *zap.Logger
}

// NewWatcher creates a watcher for path. onLoad, if not nil, is called with
// every blob the store accepted.
func NewWatcher(store *Store, path string, onLoad func(blob string), log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		store:    store,
		path:     filepath.Clean(path),
		debounce: 300 * time.Millisecond,
		onLoad:   onLoad,
		log:      log,
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Info("watching lorebook", zap.String("path", w.path))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("lorebook watcher error", zap.Error(err))

		case <-timer.C:
			w.Reload()
		}
	}
}

// Reload reads the file and loads it into the store.
func (w *Watcher) Reload() bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("read lorebook", zap.String("path", w.path), zap.Error(err))
		return false
	}
	blob := string(data)
	if !w.store.Load(blob) {
		return false
	}
	if w.onLoad != nil {
		w.onLoad(blob)
	}
	return true
}
