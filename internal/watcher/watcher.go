// Package watcher turns edits made to document files outside the process
// into change notifications.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/blockpatch/internal/checksum"
	"github.com/starford/blockpatch/internal/storage"
)

// Event kinds passed to a Callback.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// reconcileDelay debounces the pass that follows a rename.
const reconcileDelay = 200 * time.Millisecond

// Callback is called for every document whose file no longer matches what
// was last recorded. kind is one of Created, Updated, Deleted.
type Callback func(kind string, id string)

// Checksums reports what was last recorded for each document. A file whose
// checksum matches is not reported, which filters out the process's own
// writes.
type Checksums interface {
	GetChecksum(id string) (string, error)
	AllChecksums() (map[string]string, error)
}

// Watch starts an fsnotify watcher on root and processes file change events
// until ctx is cancelled.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that reports recorded
// documents whose files no longer exist and files that are not recorded.
func Watch(ctx context.Context, store storage.Provider, root string, sums Checksums, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(store, sums, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					scanNewDir(store, root, absPath, sums, logger, cb)
					continue
				}
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			id, isDoc := storage.IDOf(rel)
			if !isDoc {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				kind := Updated
				if ev.Op&fsnotify.Create != 0 {
					kind = Created
				}
				report(store, sums, logger, cb, kind, id)

			case ev.Op&fsnotify.Remove != 0:
				logger.Debug("watcher: removed", slog.String("doc", id))
				if cb != nil {
					cb(Deleted, id)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a Create if it stays under a watched dir.
				logger.Debug("watcher: renamed away", slog.String("doc", id))
				if cb != nil {
					cb(Deleted, id)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// report calls cb unless the file matches the recorded checksum.
func report(store storage.Provider, sums Checksums, logger *slog.Logger, cb Callback, kind, id string) {
	data, err := store.Read(id)
	if err != nil {
		logger.Warn("watcher: read failed", slog.String("doc", id), slog.String("error", err.Error()))
		return
	}
	recorded, _ := sums.GetChecksum(id)
	if recorded == checksum.Sum(data) {
		return
	}
	logger.Debug("watcher: changed", slog.String("doc", id), slog.String("op", kind))
	if cb != nil {
		cb(kind, id)
	}
}

// reconcile compares the recorded checksums with the files on disk.
func reconcile(store storage.Provider, sums Checksums, logger *slog.Logger, cb Callback) {
	recorded, err := sums.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.ID] = m.Checksum
	}

	for id := range recorded {
		if _, ok := disk[id]; !ok {
			logger.Debug("reconcile: missing", slog.String("doc", id))
			if cb != nil {
				cb(Deleted, id)
			}
		}
	}

	for id, cs := range disk {
		if recorded[id] == cs {
			continue
		}
		logger.Debug("reconcile: found", slog.String("doc", id))
		if cb != nil {
			cb(Created, id)
		}
	}
}

// scanNewDir reports documents found in a newly created directory.
func scanNewDir(store storage.Provider, root, dirPath string, sums Checksums, logger *slog.Logger, cb Callback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if id, ok := storage.IDOf(rel); ok {
			report(store, sums, logger, cb, Created, id)
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
