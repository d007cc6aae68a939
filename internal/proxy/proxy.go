// Package proxy implements the stdio front door (spec.md §4.7): an
// editor/CLI speaks MCP over stdin/stdout to this process, which
// auto-spawns the workspace's daemon if needed and bridges every
// request to it over a loopback TCP connection.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/mcp"
	"github.com/sari-dev/sari/internal/registry"
	"golang.org/x/sys/unix"
)

const daemonDialTimeout = 5 * time.Second

// Proxy bridges one stdio client to its workspace's daemon connection,
// auto-spawning the daemon on first use.
type Proxy struct {
	env           config.Env
	workspaceRoot string
	reg           *registry.Registry

	in  *mcp.Transport
	out *mcp.Transport

	daemonConn net.Conn
}

// New builds a Proxy for the given workspace root, reading/writing MCP
// frames over r/w (normally stdin/stdout).
func New(env config.Env, workspaceRoot string, r io.Reader, w io.Writer) (*Proxy, error) {
	regPath := env.RegistryFile
	if regPath == "" {
		regPath = registry.DefaultPath()
	}
	reg, err := registry.Open(regPath)
	if err != nil {
		return nil, fmt.Errorf("open server registry: %w", err)
	}
	return &Proxy{
		env:           env,
		workspaceRoot: workspaceRoot,
		reg:           reg,
		in:            mcp.NewTransport(r, io.Discard),
		out:           mcp.NewTransport(strings.NewReader(""), w),
	}, nil
}

// Run reads frames from the client, injects rootUri into the first
// initialize call, forwards everything to the daemon (spawning it if
// it isn't already registered and reachable), and relays responses
// back in the client's original framing.
func (p *Proxy) Run(ctx context.Context) error {
	defer p.closeDaemon()

	first := true
	for {
		msg, mode, err := p.in.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read client message: %w", err)
		}

		if first && msg["method"] == "initialize" {
			injectRootURI(msg, p.workspaceRoot)
		}
		first = false

		resp, err := p.forward(ctx, msg)
		if err != nil {
			id, hasID := msg["id"]
			if !hasID {
				continue
			}
			resp = map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"error": map[string]any{
					"code":    -32002,
					"message": fmt.Sprintf("failed to forward to daemon: %v. Try 'sari daemon start'.", err),
				},
			}
		}
		if resp == nil {
			continue // notification: no response expected
		}

		if err := p.out.WriteMessage(resp, mode); err != nil {
			return fmt.Errorf("write client response: %w", err)
		}
	}
}

func injectRootURI(msg map[string]any, workspaceRoot string) {
	if workspaceRoot == "" {
		return
	}
	params, _ := msg["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
		msg["params"] = params
	}
	if _, ok := params["rootUri"]; !ok {
		params["rootUri"] = "file://" + workspaceRoot
	}
}

// forward sends one request over the daemon connection (dialing/
// spawning it lazily) and returns its response, retrying once with a
// fresh connection on any I/O error.
func (p *Proxy) forward(ctx context.Context, msg map[string]any) (map[string]any, error) {
	conn, err := p.ensureDaemonConn(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := forwardOverSocket(msg, conn)
	if err == nil {
		return resp, nil
	}

	p.closeDaemon()
	conn, err = p.ensureDaemonConn(ctx)
	if err != nil {
		return nil, err
	}
	return forwardOverSocket(msg, conn)
}

// forwardOverSocket writes one Content-Length-framed request and reads
// back exactly one framed response, regardless of what framing the
// client used — the proxy always speaks Content-Length to the daemon.
// A notification (no id) gets no response from the daemon, so it
// returns nil without reading.
func forwardOverSocket(msg map[string]any, conn net.Conn) (map[string]any, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := conn.Write([]byte(header)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if _, hasID := msg["id"]; !hasID {
		return nil, nil
	}

	reader := bufio.NewReader(conn)
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "content-length") {
			n, convErr := strconv.Atoi(strings.TrimSpace(v))
			if convErr == nil {
				contentLength = n
			}
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("daemon response missing Content-Length")
	}

	respBody := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, respBody); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}

// ensureDaemonConn returns the cached daemon connection, dialing (and
// if necessary spawning) the daemon on first use.
func (p *Proxy) ensureDaemonConn(ctx context.Context) (net.Conn, error) {
	if p.daemonConn != nil {
		return p.daemonConn, nil
	}

	host, port, err := p.resolveOrSpawnDaemon(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), daemonDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial daemon at %s:%d: %w", host, port, err)
	}
	p.daemonConn = conn
	return conn, nil
}

func (p *Proxy) closeDaemon() {
	if p.daemonConn != nil {
		p.daemonConn.Close()
		p.daemonConn = nil
	}
}

// resolveOrSpawnDaemon looks up an already-registered daemon for this
// workspace; if none is reachable it locks a per-workspace spawn file
// (so concurrent proxy processes don't race to start two daemons),
// spawns a detached `sari daemon start`, and waits for it to register.
func (p *Proxy) resolveOrSpawnDaemon(ctx context.Context) (string, int, error) {
	if d, _, ok := p.reg.ResolveWorkspaceDaemon(p.workspaceRoot); ok && probeDaemon(d.Host, d.Port) {
		return d.Host, d.Port, nil
	}

	unlock, err := acquireSpawnLock(p.workspaceRoot)
	if err != nil {
		return "", 0, fmt.Errorf("acquire daemon spawn lock: %w", err)
	}
	defer unlock()

	if d, _, ok := p.reg.ResolveWorkspaceDaemon(p.workspaceRoot); ok && probeDaemon(d.Host, d.Port) {
		return d.Host, d.Port, nil
	}

	if err := spawnDetachedDaemon(p.workspaceRoot); err != nil {
		return "", 0, fmt.Errorf("spawn daemon: %w", err)
	}

	deadline := time.Now().Add(time.Duration(p.env.InitTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if d, _, ok := p.reg.ResolveWorkspaceDaemon(p.workspaceRoot); ok && probeDaemon(d.Host, d.Port) {
			return d.Host, d.Port, nil
		}
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", 0, fmt.Errorf("daemon did not register within %s", time.Duration(p.env.InitTimeout)*time.Second)
}

func probeDaemon(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func spawnDetachedDaemon(workspaceRoot string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}
	cmd := exec.Command(exe, "daemon", "start")
	cmd.Dir = workspaceRoot
	cmd.Env = append(os.Environ(), "SARI_WORKSPACE_ROOT="+workspaceRoot)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}

// acquireSpawnLock flocks a per-workspace lock file so two proxy
// processes racing to start a daemon for the same workspace serialize
// instead of both spawning one.
func acquireSpawnLock(workspaceRoot string) (func(), error) {
	lockDir := filepath.Join(config.StateDir(), "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(lockDir, registrySlug(workspaceRoot)+".spawn.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func registrySlug(workspaceRoot string) string {
	clean := filepath.Clean(workspaceRoot)
	clean = strings.ReplaceAll(clean, string(filepath.Separator), "_")
	return strings.TrimPrefix(clean, "_")
}
