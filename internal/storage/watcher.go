// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CHANGE WATCHER
// =============================================================================

// Change reports that another process modified a stored document.
type Change struct {
	Key     string
	Removed bool
}

// Watcher delivers change notifications for a file-backed store directory.
// The store itself does no cross-process coordination; a concurrent writer
// in another process can overwrite state last-write-wins. Watching the
// directory lets an embedder reload shared state (the audit chain in
// particular) instead of serving a stale in-memory copy.
type Watcher struct {
	fsw     *fsnotify.Watcher
	changes chan Change
	done    chan struct{}
}

// NewWatcher watches the directory of a file-backed store.
func NewWatcher(store *File) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(store.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}

	w := &Watcher{
		fsw:     fsw,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes returns the channel of store change events. Closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

func (w *Watcher) run() {
	defer close(w.changes)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Atomic writes land as a rename of a ".tmp-" file onto the
			// target; the create/rename on the final name is the signal.
			if strings.HasPrefix(filepath.Base(ev.Name), ".tmp-") {
				continue
			}
			key, ok := DecodeKeyFilename(ev.Name)
			if !ok {
				continue
			}
			var c Change
			switch {
			case ev.Op.Has(fsnotify.Remove):
				c = Change{Key: key, Removed: true}
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename):
				c = Change{Key: key}
			default:
				continue
			}
			select {
			case w.changes <- c:
			default:
				// Consumer is behind; dropping is fine, it reloads on the
				// next event it does see.
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and closes the change channel.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
