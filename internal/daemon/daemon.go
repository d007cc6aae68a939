// Package daemon runs the long-lived TCP MCP listener (spec.md §4.6): a
// loopback-only socket, a PID file, and a graceful shutdown sequence
// coordinated through the cross-process server registry.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/mcp"
	"github.com/sari-dev/sari/internal/registry"
	"github.com/sari-dev/sari/internal/tools"
	"github.com/sari-dev/sari/internal/workspace"
)

// maxPortProbe bounds how many ports above the requested one Daemon
// will try before giving up (spec.md §4.5 find_free_port).
const maxPortProbe = 50

// Daemon owns one TCP listener, the workspace manager feeding every
// connected session, and this process's PID-file/registry lifecycle.
type Daemon struct {
	env     config.Env
	bootID  string
	manager *workspace.Manager
	tools   *tools.Registry
	reg     *registry.Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New constructs a Daemon from the process environment. It does not
// bind a socket or write any files yet; call Run for that.
func New(env config.Env) (*Daemon, error) {
	if err := enforceLoopback(env); err != nil {
		return nil, err
	}

	regPath := env.RegistryFile
	if regPath == "" {
		regPath = registry.DefaultPath()
	}
	reg, err := registry.Open(regPath)
	if err != nil {
		return nil, fmt.Errorf("open server registry: %w", err)
	}

	manager := workspace.NewManager()
	return &Daemon{
		env:     env,
		bootID:  uuid.NewString(),
		manager: manager,
		tools:   tools.New(manager, env.SearchFirstMode),
		reg:     reg,
		conns:   map[net.Conn]struct{}{},
	}, nil
}

// enforceLoopback rejects binding anything but 127.0.0.1/::1/localhost
// unless SARI_ALLOW_NON_LOOPBACK is set (spec.md §9 security invariant).
func enforceLoopback(env config.Env) error {
	host := strings.ToLower(strings.TrimSpace(env.DaemonHost))
	if host == "" || host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	if env.AllowNonLoopback {
		return nil
	}
	return fmt.Errorf("sari refused to start: daemon host must be loopback only (127.0.0.1/localhost/::1), got %q; set SARI_ALLOW_NON_LOOPBACK=1 to override (not recommended)", env.DaemonHost)
}

// Run binds the listener, writes the PID file and server-registry
// entry, and serves connections until ctx is cancelled. It blocks
// until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	ln, port, err := bindFreePort(d.env.DaemonHost, d.env.DaemonPort)
	if err != nil {
		return fmt.Errorf("bind daemon listener: %w", err)
	}
	d.listener = ln

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		slog.Warn("daemon.pidfile_write_failed", "err", err)
	}
	defer os.Remove(pidPath)

	if err := d.reg.RegisterDaemon(d.bootID, d.env.DaemonHost, port, os.Getpid(), mcp.ServerVersion); err != nil {
		slog.Warn("daemon.registry_register_failed", "err", err)
	}
	defer d.reg.UnregisterDaemon(d.bootID)

	root := d.env.WorkspaceRoot
	if root == "" {
		root, _ = os.Getwd()
	}
	if _, err := d.reg.SetWorkspace(root, d.bootID, 0, ""); err != nil {
		slog.Warn("daemon.registry_set_workspace_failed", "err", err)
	}

	slog.Info("daemon.listening", "host", d.env.DaemonHost, "port", port, "boot_id", d.bootID)

	go d.touchLoop(ctx)
	go d.acceptLoop(ctx)

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) touchLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.reg.TouchDaemon(d.bootID)
		}
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("daemon.accept_error", "err", err)
			return
		}
		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serveConn(ctx, conn)
	}
}

func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	workspaceRoot := d.env.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot, _ = os.Getwd()
	}

	var debugLog func(string, any)
	if d.env.MCPDebug {
		logPath := filepath.Join(config.StateDir(), "mcp_debug.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				logger := slog.New(slog.NewTextHandler(f, nil))
				debugLog = func(direction string, payload any) {
					logger.Info("mcp.traffic", "dir", direction, "payload", payload)
				}
			}
		}
	}

	srv := mcp.NewServer(conn, conn, workspaceRoot, d.tools, d.env.MCPQueueSize, debugLog)
	srv.Run(ctx)
}

// shutdown stops accepting new connections and waits up to
// SHUTDOWN_DRAIN_SECONDS for in-flight sessions to finish (spec.md §5).
func (d *Daemon) shutdown() error {
	if d.listener != nil {
		d.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(config.DefaultDrainSeconds * time.Second):
		slog.Warn("daemon.shutdown_drain_timeout")
		d.mu.Lock()
		for conn := range d.conns {
			conn.Close()
		}
		d.mu.Unlock()
	}
	return nil
}

func bindFreePort(host string, startPort int) (net.Listener, int, error) {
	for port := startPort; port < startPort+maxPortProbe; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port found in range [%d, %d)", startPort, startPort+maxPortProbe)
}

func pidFilePath() string {
	return filepath.Join(config.StateDir(), "daemon.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPID reads the daemon's PID file, returning ok=false if absent.
func ReadPID() (int, bool) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}
