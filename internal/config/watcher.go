package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates the store and notifies a callback when the config
// file changes on disk. The parent directory is watched so editor
// rename-into-place saves are caught too.
type Watcher struct {
	store    *Store
	onChange func(*Snapshot)
	debounce time.Duration
}

// NewWatcher creates a watcher over the store's config file.
func NewWatcher(store *Store, onChange func(*Snapshot)) *Watcher {
	return &Watcher{
		store:    store,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, delivering debounced change
// notifications. Bursty saves collapse into one callback.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.store.Path())
	base := filepath.Base(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	fire := func() {
		w.store.Invalidate()
		snap, err := w.store.ReadSnapshot()
		if err != nil {
			slog.Warn("config.watch.read_failed", "error", err)
			return
		}
		slog.Info("config.watch.changed", "valid", snap.Valid, "hash", snap.Hash)
		w.onChange(snap)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			fire()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config.watch.error", "error", err)
		}
	}
}
