// Package indexer drives one workspace's scan pass and incremental
// updates (spec.md §4.3): discover candidate files, skip unchanged ones
// via the mtime/size check, extract symbols/relations, redact secrets,
// and commit in bounded batches.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/discover"
	"github.com/sari-dev/sari/internal/extract"
	"github.com/sari-dev/sari/internal/fqn"
	"github.com/sari-dev/sari/internal/redact"
	"github.com/sari-dev/sari/internal/store"
)

// safetyNetWindow forces a re-read of any file whose mtime falls within
// this window of "now", recovering from same-second write races that an
// mtime-equality skip-check would otherwise miss (DESIGN.md open
// question 3).
const safetyNetWindow = 2 * time.Second

// maxCommitRetries bounds how many recorded failures of one path are
// logged as retry warnings. Batches are not retried: every extraction
// failure goes into the failed_tasks dead-letter queue at once.
const maxCommitRetries = 3

// Status is the indexer's health snapshot, consumed by the status tool
// (spec.md §4.10).
type Status struct {
	IndexReady   bool
	LastScanTS   int64
	ScannedFiles int64
	IndexedFiles int64
	Errors       int64
}

// Indexer owns one workspace's scan-and-commit pipeline.
type Indexer struct {
	Store      *store.Store
	RepoName   string
	RootPath   string
	Config     *config.WorkspaceConfig

	mu           sync.Mutex
	indexReady   bool
	lastScanTS   int64
	scannedFiles atomic.Int64
	indexedFiles atomic.Int64
	errors       atomic.Int64
}

// New constructs an Indexer for one workspace.
func New(st *store.Store, repoName, rootPath string, cfg *config.WorkspaceConfig) *Indexer {
	if cfg == nil {
		cfg = config.DefaultWorkspaceConfig()
	}
	return &Indexer{Store: st, RepoName: repoName, RootPath: rootPath, Config: cfg}
}

// Status reports the indexer's current state.
func (ix *Indexer) Status() Status {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Status{
		IndexReady:   ix.indexReady,
		LastScanTS:   ix.lastScanTS,
		ScannedFiles: ix.scannedFiles.Load(),
		IndexedFiles: ix.indexedFiles.Load(),
		Errors:       ix.errors.Load(),
	}
}

// pendingFile is one file queued for extraction and commit.
type pendingFile struct {
	relPath string
	absPath string
	size    int64
}

// ScanPass walks the workspace, skips files unchanged since the last
// scan, extracts symbols/relations for everything else, commits in
// config.CommitBatchSize()-sized batches, then deletes any file not
// seen in this pass (spec.md §4.3 steps 1-5, §8 invariant 4).
func (ix *Indexer) ScanPass(ctx context.Context) error {
	scanStart := time.Now().UTC().Unix()

	files, err := discover.Discover(ctx, ix.RootPath, &discover.Options{Config: &ix.Config.Discover})
	if err != nil {
		return fmt.Errorf("discover %s: %w", ix.RootPath, err)
	}

	pending := make(chan pendingFile)
	commitBatch := make([]store.File, 0, ix.Config.CommitBatchSize())
	var symbolBatch []store.Symbol
	var relationBatch []store.Relation
	var batchMu sync.Mutex

	flush := func() error {
		batchMu.Lock()
		defer batchMu.Unlock()
		if len(commitBatch) == 0 {
			return nil
		}
		if err := ix.commit(commitBatch, symbolBatch, relationBatch); err != nil {
			return err
		}
		ix.indexedFiles.Add(int64(len(commitBatch)))
		commitBatch = commitBatch[:0]
		symbolBatch = nil
		relationBatch = nil
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for _, f := range files {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case pending <- pendingFile{relPath: f.RelPath, absPath: f.Path, size: f.Size}:
			}
		}
		close(pending)
		return nil
	})

	const workers = 4
	for w := 0; w < workers; w++ {
		group.Go(func() error {
			for pf := range pending {
				ix.scannedFiles.Add(1)
				skip := ix.shouldSkip(pf)
				if skip {
					continue
				}
				f, syms, rels, err := ix.extractOne(pf)
				if err != nil {
					ix.errors.Add(1)
					ix.recordFailure(pf.relPath, err)
					continue
				}
				batchMu.Lock()
				commitBatch = append(commitBatch, f)
				symbolBatch = append(symbolBatch, syms...)
				relationBatch = append(relationBatch, rels...)
				shouldFlush := len(commitBatch) >= ix.Config.CommitBatchSize()
				batchMu.Unlock()
				if shouldFlush {
					if err := flush(); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	// Files unchanged since the last scan were never re-read; stamp
	// last_seen for every discovered path so the deletion pass below
	// only removes files genuinely absent from this walk.
	seen := make([]string, 0, len(files))
	for _, f := range files {
		seen = append(seen, f.RelPath)
	}
	if err := ix.Store.UpdateLastSeen(seen, scanStart); err != nil {
		slog.Warn("indexer.update_last_seen", "repo", ix.RepoName, "err", err)
	}

	deleted, err := ix.Store.DeleteUnseenFiles(scanStart)
	if err != nil {
		slog.Warn("indexer.delete_unseen", "repo", ix.RepoName, "err", err)
	} else if len(deleted) > 0 {
		slog.Info("indexer.deleted", "repo", ix.RepoName, "count", len(deleted))
	}

	ix.mu.Lock()
	ix.indexReady = true
	ix.lastScanTS = scanStart
	ix.mu.Unlock()
	return nil
}

// shouldSkip reports whether pf can be left untouched: the stored
// (mtime, size) match the filesystem's, and its mtime is outside the
// safety-net window.
func (ix *Indexer) shouldSkip(pf pendingFile) bool {
	info, err := os.Stat(pf.absPath)
	if err != nil {
		return false
	}
	stat, ok := ix.Store.StatFile(pf.relPath)
	if !ok {
		return false
	}
	if time.Since(info.ModTime()) < safetyNetWindow {
		return false
	}
	return stat.MTime == info.ModTime().Unix() && stat.Size == info.Size()
}

func (ix *Indexer) extractOne(pf pendingFile) (store.File, []store.Symbol, []store.Relation, error) {
	raw, err := os.ReadFile(pf.absPath)
	if err != nil {
		return store.File{}, nil, nil, fmt.Errorf("read %s: %w", pf.relPath, err)
	}
	info, err := os.Stat(pf.absPath)
	if err != nil {
		return store.File{}, nil, nil, fmt.Errorf("stat %s: %w", pf.relPath, err)
	}

	content := redact.Content(string(raw))
	f := store.File{
		Path: pf.relPath, Repo: ix.RepoName,
		MTime: info.ModTime().Unix(), Size: info.Size(), Content: content,
	}

	result := extract.ForPath(pf.relPath).Extract(pf.relPath, []byte(content))

	syms := make([]store.Symbol, 0, len(result.Symbols))
	for _, s := range result.Symbols {
		qualname := fqn.Compute(ix.RepoName, pf.relPath, s.Name)
		syms = append(syms, store.Symbol{
			Path: pf.relPath, Name: s.Name, Kind: s.Kind, Line: s.Line, EndLine: s.EndLine,
			Content: s.Content, ParentName: s.ParentName, Docstring: s.Docstring,
			Metadata: s.Metadata, Qualname: qualname,
			SymbolID: store.ComputeSymbolID(pf.relPath, qualname, s.Kind),
		})
	}

	rels := make([]store.Relation, 0, len(result.Relations))
	for _, r := range result.Relations {
		rels = append(rels, store.Relation{
			FromPath: pf.relPath, FromSymbol: r.FromSymbol, ToSymbol: r.ToSymbol,
			RelType: store.RelationKind(r.RelType), Line: r.Line,
		})
	}

	return f, syms, rels, nil
}

// commit persists one batch in a single transaction: files first (which
// clears each path's prior symbols/relations), then the fresh symbol and
// relation rows.
func (ix *Indexer) commit(files []store.File, syms []store.Symbol, rels []store.Relation) error {
	return ix.Store.WithTransaction(func(tx *store.Store) error {
		if err := tx.UpsertFiles(files); err != nil {
			return err
		}
		if err := tx.UpsertSymbols(syms); err != nil {
			return err
		}
		return tx.UpsertRelations(rels)
	})
}

// recordFailure records relPath in the failed_tasks dead-letter queue
// on every failure (inserting it or bumping its attempt count), and logs
// a retry warning while that count is below maxCommitRetries
// (spec.md §7 class 3: a bad file must never stall the whole scan).
func (ix *Indexer) recordFailure(relPath string, cause error) {
	existing, err := ix.Store.ListFailedTasks()
	attempts := 1
	if err == nil {
		for _, t := range existing {
			if t.Path == relPath {
				attempts = t.Attempts + 1
				break
			}
		}
	}
	if attempts < maxCommitRetries {
		slog.Warn("indexer.extract.retry", "path", relPath, "attempt", attempts, "err", cause)
	}
	if err := ix.Store.RecordFailedTask(relPath, cause.Error()); err != nil {
		slog.Error("indexer.record_failed_task", "path", relPath, "err", err)
	}
}

// IndexPaths incrementally re-indexes a specific set of paths — the
// watcher's realtime-change hook, bypassing the full discover walk.
func (ix *Indexer) IndexPaths(ctx context.Context, relPaths []string) error {
	var files []store.File
	var syms []store.Symbol
	var rels []store.Relation

	for _, rel := range relPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rel == "" {
			continue
		}
		abs := rel
		if !os.IsPathSeparator(rel[0]) {
			abs = ix.RootPath + string(os.PathSeparator) + rel
		}
		if _, err := os.Stat(abs); err != nil {
			// File vanished between the watch event and this pass; let
			// the next full scan's deletion detection handle it.
			continue
		}
		f, s, r, err := ix.extractOne(pendingFile{relPath: rel, absPath: abs})
		if err != nil {
			ix.errors.Add(1)
			ix.recordFailure(rel, err)
			continue
		}
		f.LastSeen = time.Now().Unix()
		files = append(files, f)
		syms = append(syms, s...)
		rels = append(rels, r...)
	}
	if len(files) == 0 {
		return nil
	}
	if err := ix.commit(files, syms, rels); err != nil {
		return err
	}
	ix.indexedFiles.Add(int64(len(files)))
	return nil
}
