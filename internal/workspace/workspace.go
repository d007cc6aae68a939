// Package workspace holds the in-process registry of SharedState, one
// per workspace root currently in use by an active MCP session, keyed
// and refcounted so two sessions pointed at the same workspace share a
// single Store/Indexer/watcher instead of racing two independent ones
// (spec.md §8 invariant 7).
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/discover"
	"github.com/sari-dev/sari/internal/indexer"
	"github.com/sari-dev/sari/internal/store"
	"github.com/sari-dev/sari/internal/watcher"
)

// SharedState bundles everything one workspace's sessions share: its
// index database, indexer, and background watcher.
type SharedState struct {
	Root     string
	RepoName string
	DB       *store.Store
	Indexer  *indexer.Indexer
	Config   *config.WorkspaceConfig

	cancelWatch context.CancelFunc
	refs        int
}

// Manager is the process-wide registry of SharedState, keyed by a
// stable slug derived from the workspace root.
type Manager struct {
	mu    sync.Mutex
	byKey map[string]*SharedState
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{byKey: make(map[string]*SharedState)}
}

// Slug derives the stable on-disk database filename stem for root.
func Slug(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	h := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(h[:])[:16]
}

// Acquire returns the SharedState for root, creating it (opening its
// database, running the initial scan, and starting its watcher) on
// first use. Every Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, root string) (*SharedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Slug(root)
	if st, ok := m.byKey[key]; ok {
		st.refs++
		return st, nil
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %s: %w", root, err)
	}
	repoName := filepath.Base(abs)
	cfg := config.LoadWorkspaceConfig(abs)

	db, err := store.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", abs, err)
	}

	ix := indexer.New(db, repoName, abs, cfg)
	st := &SharedState{Root: abs, RepoName: repoName, DB: db, Indexer: ix, Config: cfg, refs: 1}

	if err := ix.ScanPass(ctx); err != nil {
		slog.Warn("workspace.initial_scan", "root", abs, "err", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	st.cancelWatch = cancel
	w := watcher.New(abs, &discover.Options{Config: &cfg.Discover}, ix.ScanPass, ix.IndexPaths)
	go w.Run(watchCtx)

	m.byKey[key] = st
	slog.Info("workspace.acquired", "root", abs, "repo", repoName)
	return st, nil
}

// Release drops one reference to root's SharedState, tearing it down
// (stopping its watcher, closing its database) once the refcount hits
// zero.
func (m *Manager) Release(root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Slug(root)
	st, ok := m.byKey[key]
	if !ok {
		return nil
	}
	st.refs--
	if st.refs > 0 {
		return nil
	}

	delete(m.byKey, key)
	st.cancelWatch()
	slog.Info("workspace.released", "root", st.Root)
	return st.DB.Close()
}

// Get returns the currently-registered SharedState for root without
// affecting its refcount, or false if no session holds it.
func (m *Manager) Get(root string) (*SharedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byKey[Slug(root)]
	return st, ok
}

// All returns the SharedState of every currently-registered workspace.
func (m *Manager) All() []*SharedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SharedState, 0, len(m.byKey))
	for _, st := range m.byKey {
		out = append(out, st)
	}
	return out
}
