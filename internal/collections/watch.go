package collections

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last file event before
// reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a definitions file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Set) error
}

// NewWatcher creates a watcher for the definitions file at path. onChange
// receives every successfully compiled version of the file; a file that
// fails to load is logged and the previous definitions stay in effect.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Set) error) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logger,
		onChange: onChange,
	}
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches the directory holding the file, so that editors replacing the
// file by rename are seen, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching collection definitions", slog.String("path", w.path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definition watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	set, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid collection definitions",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	if err := w.onChange(set); err != nil {
		w.logger.Error("applying collection definitions",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("reloaded collection definitions",
		slog.String("path", w.path), slog.Int("collections", len(set.Collections)))
}
