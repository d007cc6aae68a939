// Package watcher keeps one workspace's index fresh after the initial
// scan: an adaptive polling loop as the reliable baseline (spec.md
// §4.3), backed by an fsnotify producer that triggers incremental
// re-indexing the moment a change lands instead of waiting for the
// next poll tick.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sari-dev/sari/internal/discover"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
	// debounceWindow coalesces bursts of fsnotify events (e.g. an editor's
	// save-via-rename) into a single incremental index pass.
	debounceWindow = 300 * time.Millisecond
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// ScanFunc triggers a full scan pass for the workspace.
type ScanFunc func(ctx context.Context) error

// IncrementalFunc triggers incremental re-indexing of specific paths.
type IncrementalFunc func(ctx context.Context, relPaths []string) error

// Watcher polls one workspace for changes on an adaptive interval and,
// when fsnotify is available on the platform, layers a realtime
// incremental path on top.
type Watcher struct {
	rootPath    string
	discoverOpt *discover.Options
	scanFn      ScanFunc
	incFn       IncrementalFunc

	snapshot map[string]fileSnapshot
	interval time.Duration
}

// New creates a Watcher for one workspace root.
func New(rootPath string, discoverOpt *discover.Options, scanFn ScanFunc, incFn IncrementalFunc) *Watcher {
	return &Watcher{rootPath: rootPath, discoverOpt: discoverOpt, scanFn: scanFn, incFn: incFn}
}

// Run blocks until ctx is cancelled, running the adaptive poll loop and,
// best-effort, an fsnotify realtime producer alongside it.
func (w *Watcher) Run(ctx context.Context) {
	go w.runRealtime(ctx)

	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	nextPoll := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(nextPoll) {
				continue
			}
			nextPoll = now.Add(w.poll(ctx))
		}
	}
}

// poll captures a fresh snapshot, compares it with the last one, and
// triggers a full scan on any difference. Returns the interval to wait
// before the next poll.
func (w *Watcher) poll(ctx context.Context) time.Duration {
	if _, err := os.Stat(w.rootPath); err != nil {
		slog.Warn("watcher.root_gone", "path", w.rootPath)
		return maxInterval
	}

	snap, err := w.captureSnapshot(ctx)
	if err != nil {
		slog.Warn("watcher.snapshot", "path", w.rootPath, "err", err)
		return w.interval
	}

	interval := pollInterval(len(snap))
	if w.snapshot == nil {
		slog.Debug("watcher.baseline", "path", w.rootPath, "files", len(snap))
		w.snapshot = snap
		w.interval = interval
		return interval
	}

	if snapshotsEqual(w.snapshot, snap) {
		w.interval = interval
		return interval
	}

	slog.Info("watcher.changed", "path", w.rootPath, "files", len(snap))
	if err := w.scanFn(ctx); err != nil {
		slog.Warn("watcher.scan", "path", w.rootPath, "err", err)
		return w.interval // retry with old snapshot next tick
	}

	w.snapshot = snap
	w.interval = pollInterval(len(snap))
	return w.interval
}

func (w *Watcher) captureSnapshot(ctx context.Context) (map[string]fileSnapshot, error) {
	files, err := discover.Discover(ctx, w.rootPath, w.discoverOpt)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return snap, nil
}

// runRealtime watches rootPath with fsnotify and debounces bursts of
// events into incFn calls. fsnotify setup failures (missing inotify,
// watch-limit exhaustion) are logged and the adaptive poll loop above
// remains the sole freshness mechanism — never a fatal condition.
func (w *Watcher) runRealtime(ctx context.Context) {
	if w.incFn == nil {
		return
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("watcher.fsnotify.unavailable", "err", err)
		return
	}
	defer fsw.Close()

	if err := addRecursive(fsw, w.rootPath); err != nil {
		slog.Warn("watcher.fsnotify.watch", "path", w.rootPath, "err", err)
		return
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		if err := w.incFn(ctx, paths); err != nil {
			slog.Warn("watcher.incremental", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			rel, relErr := relPath(w.rootPath, ev.Name)
			if relErr != nil {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, flush)
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher.fsnotify.error", "err", err)
		}
	}
}

// pollInterval computes the adaptive interval from file count: 1s base
// + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

// snapshotsEqual returns true if two snapshots have identical files
// with the same mtime and size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}
