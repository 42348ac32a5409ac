package kvstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/asemenov-dev/inspectsync/internal/logging"
)

// Watcher reports changes to a file-backed store so another process (the
// summary view in a second "tab") can refresh its aggregate counts without
// polling. It watches the store's directory rather than the file itself
// because the atomic rename in FileStorage.flush replaces the inode.
type Watcher struct {
	fw      *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching the storage file at path. The returned channel
// receives one (possibly coalesced) signal per observed change.
func NewWatcher(path string, log logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		fw:      fw,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	target := filepath.Clean(path)
	go func() {
		defer close(w.changes)
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				select {
				case w.changes <- struct{}{}:
				default: // a signal is already pending, coalesce
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn(context.Background(), "storage watcher error", "error", err)
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Changes returns the change-signal channel. It is closed when the watcher
// stops.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
