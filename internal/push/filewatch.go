package push

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher notifies when a local log file, or its SQLite journal
// companions, change on disk. Writes from other processes sharing the file
// show up here well before the next poll.
type FileWatcher struct {
	path   string
	logger *slog.Logger
}

// NewFileWatcher watches path. The directory must exist.
func NewFileWatcher(path string, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{path: path, logger: logger}
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *FileWatcher) Run(ctx context.Context, n *Notifier) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: SQLite replaces and recreates -wal/-shm files,
	// which a watch on the file itself would miss.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(w.path)
	relevant := map[string]bool{
		base:          true,
		base + "-wal": true,
	}

	w.logger.Debug("watching log file", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				n.Notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "path", w.path, "error", err)
		}
	}
}
