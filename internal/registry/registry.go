// Package registry implements the cross-process daemon registry
// (spec.md §4.6): a single JSON file at $SARI_REGISTRY_FILE (default
// ~/.local/share/sari/server.json) recording which daemon (by boot_id)
// owns which workspace, guarded by a POSIX flock so concurrent CLI
// invocations never race each other's read-modify-write.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// schemaVersion is the registry's on-disk schema tag (v2, "SSOT").
const schemaVersion = "2.0"

// DaemonInfo is one running daemon's registry entry.
type DaemonInfo struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	PID        int    `json:"pid"`
	StartTS    int64  `json:"start_ts"`
	LastSeenTS int64  `json:"last_seen_ts"`
	Draining   bool   `json:"draining"`
	Version    string `json:"version"`
}

// WorkspaceInfo binds a workspace root to the daemon currently serving it.
type WorkspaceInfo struct {
	BootID       string `json:"boot_id"`
	LastActiveTS int64  `json:"last_active_ts"`
	HTTPPort     int    `json:"http_port,omitempty"`
	HTTPHost     string `json:"http_host,omitempty"`
	HTTPPID      int    `json:"http_pid,omitempty"`
}

// document is the full on-disk shape of server.json.
type document struct {
	Version    string                   `json:"version"`
	Daemons    map[string]DaemonInfo    `json:"daemons"`
	Workspaces map[string]WorkspaceInfo `json:"workspaces"`
}

func emptyDocument() document {
	return document{Version: schemaVersion, Daemons: map[string]DaemonInfo{}, Workspaces: map[string]WorkspaceInfo{}}
}

// Registry is a handle onto one server.json file.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex // serializes this process's own callers; flock serializes across processes
}

// Open returns a Registry bound to path, creating an empty document if
// none exists yet.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir registry dir: %w", err)
	}
	r := &Registry{path: path, lockPath: path + ".lock"}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := r.save(emptyDocument()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultPath returns ~/.local/share/sari/server.json, honoring
// $SARI_REGISTRY_FILE (spec.md §6).
func DefaultPath() string {
	if p := os.Getenv("SARI_REGISTRY_FILE"); p != "" {
		abs, err := filepath.Abs(p)
		if err == nil {
			return abs
		}
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "share", "sari", "server.json")
}

// withLock runs fn while holding the named flock on r.lockPath.
func (r *Registry) withLock(exclusive bool, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// loadUnlocked reads and migrates the document without taking a lock; callers
// must already hold one via withLock.
func (r *Registry) loadUnlocked() document {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return emptyDocument()
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return migrateLegacy(data)
	}
	if doc.Version != schemaVersion || doc.Daemons == nil || doc.Workspaces == nil {
		return migrateLegacy(data)
	}
	return doc
}

// migrateLegacy upgrades a v1 "instances" document to v2, or returns an
// empty document if the bytes are neither shape.
func migrateLegacy(data []byte) document {
	var legacy struct {
		Instances map[string]struct {
			PID     int    `json:"pid"`
			Port    int    `json:"port"`
			StartTS int64  `json:"start_ts"`
			Version string `json:"version"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil || legacy.Instances == nil {
		return emptyDocument()
	}
	doc := emptyDocument()
	now := time.Now().Unix()
	for ws, info := range legacy.Instances {
		bootID := "legacy-" + strconv.Itoa(info.PID) + "-" + strconv.Itoa(info.Port)
		startTS := info.StartTS
		if startTS == 0 {
			startTS = now
		}
		version := info.Version
		if version == "" {
			version = "legacy"
		}
		doc.Daemons[bootID] = DaemonInfo{
			Host: "127.0.0.1", Port: info.Port, PID: info.PID,
			StartTS: startTS, LastSeenTS: now, Version: version,
		}
		doc.Workspaces[normalizeRoot(ws)] = WorkspaceInfo{BootID: bootID, LastActiveTS: now}
	}
	return doc
}

func (r *Registry) save(doc document) error {
	tmp := r.path + fmt.Sprintf(".tmp.%d.%d", os.Getpid(), time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync registry: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename registry into place: %w", err)
	}
	return nil
}

func (r *Registry) update(fn func(doc *document)) error {
	return r.withLock(true, func() error {
		doc := r.loadUnlocked()
		fn(&doc)
		doc.Version = schemaVersion
		return r.save(doc)
	})
}

func (r *Registry) load() document {
	var doc document
	_ = r.withLock(false, func() error {
		doc = r.loadUnlocked()
		return nil
	})
	return doc
}

func normalizeRoot(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	return filepath.Clean(abs)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}

// pruneDeadLocked removes daemons whose pid is no longer running, along
// with every workspace bound to one of them. Caller must hold the lock.
func pruneDeadLocked(doc *document) {
	var dead []string
	for bootID, info := range doc.Daemons {
		if !isProcessAlive(info.PID) {
			dead = append(dead, bootID)
		}
	}
	if len(dead) == 0 {
		return
	}
	deadSet := make(map[string]bool, len(dead))
	for _, id := range dead {
		deadSet[id] = true
		delete(doc.Daemons, id)
	}
	for ws, info := range doc.Workspaces {
		if deadSet[info.BootID] {
			delete(doc.Workspaces, ws)
		}
	}
}

// RegisterDaemon records (or refreshes) boot_id's entry.
func (r *Registry) RegisterDaemon(bootID, host string, port, pid int, version string) error {
	return r.update(func(doc *document) {
		pruneDeadLocked(doc)
		prior, existed := doc.Daemons[bootID]
		startTS := time.Now().Unix()
		if existed && prior.StartTS != 0 {
			startTS = prior.StartTS
		}
		if version == "" && existed {
			version = prior.Version
		}
		doc.Daemons[bootID] = DaemonInfo{
			Host: host, Port: port, PID: pid, StartTS: startTS,
			LastSeenTS: time.Now().Unix(), Draining: existed && prior.Draining, Version: version,
		}
	})
}

// TouchDaemon refreshes last_seen_ts for an already-registered daemon.
func (r *Registry) TouchDaemon(bootID string) error {
	return r.update(func(doc *document) {
		if d, ok := doc.Daemons[bootID]; ok {
			d.LastSeenTS = time.Now().Unix()
			doc.Daemons[bootID] = d
		}
	})
}

// SetDaemonDraining marks bootID as draining (or not), signaling sessions
// to migrate off it before it exits (spec.md §5 graceful shutdown).
func (r *Registry) SetDaemonDraining(bootID string, draining bool) error {
	return r.update(func(doc *document) {
		if d, ok := doc.Daemons[bootID]; ok {
			d.Draining = draining
			doc.Daemons[bootID] = d
		}
	})
}

// UnregisterDaemon removes bootID and every workspace bound to it.
func (r *Registry) UnregisterDaemon(bootID string) error {
	return r.update(func(doc *document) {
		delete(doc.Daemons, bootID)
		for ws, info := range doc.Workspaces {
			if info.BootID == bootID {
				delete(doc.Workspaces, ws)
			}
		}
	})
}

// SetWorkspace binds workspaceRoot to bootID, returning the previous
// owner's boot_id (if ownership changed) so the caller can tell a
// prior daemon to start draining.
func (r *Registry) SetWorkspace(workspaceRoot, bootID string, httpPort int, httpHost string) (string, error) {
	ws := normalizeRoot(workspaceRoot)
	var prevBoot string
	err := r.update(func(doc *document) {
		pruneDeadLocked(doc)
		prior := doc.Workspaces[ws]
		prevBoot = prior.BootID
		prior.BootID = bootID
		prior.LastActiveTS = time.Now().Unix()
		if httpPort != 0 {
			prior.HTTPPort = httpPort
		}
		if httpHost != "" {
			prior.HTTPHost = httpHost
		}
		doc.Workspaces[ws] = prior
		if prevBoot != "" && prevBoot != bootID {
			if d, ok := doc.Daemons[prevBoot]; ok {
				d.Draining = true
				doc.Daemons[prevBoot] = d
			}
		}
	})
	return prevBoot, err
}

// TouchWorkspace refreshes last_active_ts for a bound workspace.
func (r *Registry) TouchWorkspace(workspaceRoot string) error {
	ws := normalizeRoot(workspaceRoot)
	return r.update(func(doc *document) {
		if info, ok := doc.Workspaces[ws]; ok {
			info.LastActiveTS = time.Now().Unix()
			doc.Workspaces[ws] = info
		}
	})
}

// UnregisterWorkspace removes workspaceRoot's binding. If bootID is
// non-empty, the binding is only removed if it still points at bootID
// (guards against a stale unregister racing a newer owner).
func (r *Registry) UnregisterWorkspace(workspaceRoot, bootID string) error {
	ws := normalizeRoot(workspaceRoot)
	return r.update(func(doc *document) {
		info, ok := doc.Workspaces[ws]
		if !ok {
			return
		}
		if bootID != "" && info.BootID != bootID {
			return
		}
		delete(doc.Workspaces, ws)
	})
}

// GetDaemon returns bootID's entry, pruning and returning false if its
// pid is no longer alive.
func (r *Registry) GetDaemon(bootID string) (DaemonInfo, bool) {
	doc := r.load()
	d, ok := doc.Daemons[bootID]
	if !ok {
		return DaemonInfo{}, false
	}
	if !isProcessAlive(d.PID) {
		_ = r.UnregisterDaemon(bootID)
		return DaemonInfo{}, false
	}
	return d, true
}

// ResolveWorkspaceDaemon returns the live daemon currently bound to
// workspaceRoot, pruning stale bindings as it goes.
func (r *Registry) ResolveWorkspaceDaemon(workspaceRoot string) (DaemonInfo, string, bool) {
	ws := normalizeRoot(workspaceRoot)
	doc := r.load()
	info, ok := doc.Workspaces[ws]
	if !ok {
		return DaemonInfo{}, "", false
	}
	d, ok := doc.Daemons[info.BootID]
	if !ok {
		_ = r.UnregisterWorkspace(workspaceRoot, "")
		return DaemonInfo{}, "", false
	}
	if !isProcessAlive(d.PID) {
		_ = r.UnregisterDaemon(info.BootID)
		return DaemonInfo{}, "", false
	}
	return d, info.BootID, true
}

// ListWorkspacesForBoot returns every workspace root currently bound to
// bootID.
func (r *Registry) ListWorkspacesForBoot(bootID string) []string {
	doc := r.load()
	var out []string
	for ws, info := range doc.Workspaces {
		if info.BootID == bootID {
			out = append(out, ws)
		}
	}
	return out
}

// FindFreePort returns the first port from startPort that neither a
// live daemon in the registry nor the OS itself is using.
func (r *Registry) FindFreePort(startPort, maxPort int) (int, error) {
	doc := r.load()
	used := make(map[int]bool, len(doc.Daemons))
	for _, d := range doc.Daemons {
		if isProcessAlive(d.PID) {
			used[d.Port] = true
		}
	}
	for port := startPort; port <= maxPort; port++ {
		if used[port] {
			continue
		}
		if probePort(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port available in [%d,%d]", startPort, maxPort)
}
