package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher daemon defaults.
const (
	DefaultDebounce     = 2 * time.Second
	DefaultPollInterval = 30 * time.Second
)

// Watcher runs the engine continuously: filesystem events trigger a debounced
// sync, and a poll ticker picks up remote changes. Runs are serialized; events
// arriving during a run fold into the next one.
type Watcher struct {
	engine *Engine
	root   string
	logger *slog.Logger

	debounce     time.Duration
	pollInterval time.Duration
}

// NewWatcher creates a Watcher over an engine. Zero durations fall back to
// the defaults.
func NewWatcher(engine *Engine, root string, debounce, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		engine:       engine,
		root:         root,
		logger:       logger,
		debounce:     debounce,
		pollInterval: pollInterval,
	}
}

// Run watches until the context is cancelled. It performs one full sync on
// startup, then loops on events and the poll ticker.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync: creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	w.logger.Info("watching workspace",
		slog.String("root", w.root),
		slog.Duration("debounce", w.debounce),
		slog.Duration("poll_interval", w.pollInterval),
	)

	w.runSync(ctx, "startup")

	// The debounce timer starts stopped; each relevant event resets it so a
	// burst of writes coalesces into one run after quiescence.
	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("sync: filesystem watcher closed")
			}

			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("filesystem event",
				slog.String("op", event.Op.String()), slog.String("path", event.Name))

			// New directories must be watched before their children change.
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := w.addRecursive(fsw, event.Name); addErr != nil {
						w.logger.Warn("watching new directory", slog.String("error", addErr.Error()))
					}
				}
			}

			debounce.Reset(w.debounce)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("sync: filesystem watcher closed")
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", watchErr.Error()))

		case <-debounce.C:
			w.runSync(ctx, "local changes")

		case <-poll.C:
			changed, checkErr := w.remoteChanged(ctx)
			if checkErr != nil {
				w.logger.Warn("remote poll failed", slog.String("error", checkErr.Error()))
				continue
			}

			if changed {
				w.runSync(ctx, "remote changes")
			}
		}
	}
}

// runSync executes one full sync, logging rather than propagating failures so
// the daemon keeps running.
func (w *Watcher) runSync(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}

	w.logger.Info("sync triggered", slog.String("trigger", trigger))

	report, err := w.engine.Sync(ctx, false)
	if err != nil {
		w.logger.Error("sync failed", slog.String("error", err.Error()))
		return
	}

	if report.Conflicted > 0 {
		w.logger.Warn("sync left conflicts pending resolution",
			slog.Int("conflicts", report.Conflicted))
	}
}

// remoteChanged fetches the top-level remote listing and compares node mtimes
// against state. A cheap check: deeper changes bubble up to top-level parents
// on the remote side.
func (w *Watcher) remoteChanged(ctx context.Context) (bool, error) {
	nodes, err := w.engine.client.FetchTopLevel(ctx, w.engine.rootID)
	if err != nil {
		return false, err
	}

	state, err := w.engine.store.ListAll(ctx)
	if err != nil {
		return false, err
	}

	byRemoteID := make(map[string]*Entry, len(state))
	for _, e := range state {
		byRemoteID[e.RemoteID] = e
	}

	known := make(map[string]bool, len(nodes))

	for _, n := range nodes {
		known[n.ID] = true

		e := byRemoteID[n.ID]
		if e == nil || ToUnixNano(n.UpdatedAt) > e.RemoteMtime {
			return true, nil
		}
	}

	// A tracked top-level entry missing from the listing is a remote delete.
	for _, e := range state {
		if e.ParentRemoteID == w.engine.rootID && !known[e.RemoteID] {
			return true, nil
		}
	}

	return false, nil
}

// relevant filters out events for hidden paths, the metadata directory, and
// non-content files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return false
	}

	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}

	// Editor temp files churn constantly; only markdown, schema files, and
	// directory-level events matter.
	base := filepath.Base(event.Name)
	if strings.HasSuffix(base, ".md") || base == SchemaFileName {
		return true
	}

	if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
		return true
	}

	// Removed paths cannot be stat'd; directory removals matter.
	return event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}

// addRecursive watches dir and every non-hidden subdirectory beneath it.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("sync: walking %s: %w", p, walkErr)
		}

		if !d.IsDir() {
			return nil
		}

		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("sync: watching %s: %w", p, err)
		}

		return nil
	})
}
