package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestRegisterAndResolveWorkspace(t *testing.T) {
	r := newTestRegistry(t)
	pid := os.Getpid()

	if err := r.RegisterDaemon("boot-1", "127.0.0.1", 47779, pid, "test"); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	prev, err := r.SetWorkspace(t.TempDir(), "boot-1", 0, "")
	if err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	if prev != "" {
		t.Errorf("expected no previous owner, got %q", prev)
	}

	d, ok := r.GetDaemon("boot-1")
	if !ok {
		t.Fatal("expected daemon to resolve")
	}
	if d.Port != 47779 || d.PID != pid {
		t.Errorf("unexpected daemon info: %+v", d)
	}
}

func TestSetWorkspaceMarksPreviousOwnerDraining(t *testing.T) {
	r := newTestRegistry(t)
	pid := os.Getpid()
	ws := t.TempDir()

	if err := r.RegisterDaemon("boot-a", "127.0.0.1", 1, pid, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterDaemon("boot-b", "127.0.0.1", 2, pid, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := r.SetWorkspace(ws, "boot-a", 0, ""); err != nil {
		t.Fatal(err)
	}
	prev, err := r.SetWorkspace(ws, "boot-b", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if prev != "boot-a" {
		t.Fatalf("expected previous owner boot-a, got %q", prev)
	}

	d, ok := r.GetDaemon("boot-a")
	if !ok || !d.Draining {
		t.Errorf("expected boot-a marked draining, got ok=%v draining=%v", ok, d.Draining)
	}
}

func TestUnregisterDaemonRemovesItsWorkspaces(t *testing.T) {
	r := newTestRegistry(t)
	pid := os.Getpid()
	ws := t.TempDir()

	if err := r.RegisterDaemon("boot-x", "127.0.0.1", 1, pid, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetWorkspace(ws, "boot-x", 0, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.UnregisterDaemon("boot-x"); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := r.ResolveWorkspaceDaemon(ws); ok {
		t.Error("expected workspace binding to be gone after daemon unregistered")
	}
}

func TestGetDaemonPrunesDeadPID(t *testing.T) {
	r := newTestRegistry(t)
	// A pid vanishingly unlikely to be alive.
	if err := r.RegisterDaemon("boot-dead", "127.0.0.1", 1, 999999, ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.GetDaemon("boot-dead"); ok {
		t.Error("expected dead pid's daemon to be pruned")
	}
}

func TestFindFreePort(t *testing.T) {
	r := newTestRegistry(t)
	port, err := r.FindFreePort(49200, 49300)
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	if port < 49200 || port > 49300 {
		t.Errorf("port %d out of range", port)
	}
}
