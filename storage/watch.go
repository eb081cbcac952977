package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"jabberwocky238/bindzone/zonefile"
)

// watchDebounce coalesces the burst of events an editor produces on save.
const watchDebounce = 100 * time.Millisecond

// Watch uses fsnotify to notice edits made to the zone file by something
// other than this engine, such as an operator with an editor. Each such
// edit is diffed against the last known version and reported. It blocks
// until the context is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so we catch atomic rename-based writes.
	dir := filepath.Dir(e.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != e.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, e.checkExternal)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fsnotify error", "zone", e.zone, "err", err)
		}
	}
}

// checkExternal compares the file on disk with what the engine last wrote
// or saw. Contents written by the engine itself hash equal and are ignored.
func (e *Engine) checkExternal() {
	data, err := os.ReadFile(e.path)
	if err != nil {
		slog.Warn("read zone file after change", "zone", e.zone, "err", err)
		return
	}
	sum := sha256.Sum256(data)
	doc := zonefile.Parse(string(data), e.zone)

	e.mu.Lock()
	if sum == e.lastHash {
		e.mu.Unlock()
		return
	}
	prev := e.lastDoc
	e.lastHash = sum
	e.lastDoc = doc.Clone()
	e.mu.Unlock()

	if prev == nil {
		slog.Info("zone file appeared", "zone", e.zone, "path", e.path)
		return
	}
	changes := zonefile.Diff(prev, doc)
	slog.Info("zone file changed outside the store",
		"zone", e.zone,
		"added", len(changes.Added),
		"updated", len(changes.Updated),
		"deleted", len(changes.Deleted),
	)
	if e.observer != nil {
		e.observer.ObserveExternalChange(e.zone, changes)
	}
}
