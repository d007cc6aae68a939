package daemon

import (
	"net"
	"testing"

	"github.com/sari-dev/sari/internal/config"
)

func TestEnforceLoopbackAllowsDefaults(t *testing.T) {
	env := config.Env{DaemonHost: "127.0.0.1"}
	if err := enforceLoopback(env); err != nil {
		t.Errorf("expected loopback host to be allowed, got %v", err)
	}

	env.DaemonHost = "localhost"
	if err := enforceLoopback(env); err != nil {
		t.Errorf("expected localhost to be allowed, got %v", err)
	}

	env.DaemonHost = ""
	if err := enforceLoopback(env); err != nil {
		t.Errorf("expected empty host to be allowed, got %v", err)
	}
}

func TestEnforceLoopbackRejectsNonLoopback(t *testing.T) {
	env := config.Env{DaemonHost: "0.0.0.0"}
	if err := enforceLoopback(env); err == nil {
		t.Error("expected a non-loopback host to be rejected by default")
	}

	env.AllowNonLoopback = true
	if err := enforceLoopback(env); err != nil {
		t.Errorf("expected SARI_ALLOW_NON_LOOPBACK to permit a non-loopback host, got %v", err)
	}
}

func TestBindFreePortFallsBackWhenBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve a port: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	ln, port, err := bindFreePort("127.0.0.1", busyPort)
	if err != nil {
		t.Fatalf("bindFreePort: %v", err)
	}
	defer ln.Close()

	if port == busyPort {
		t.Error("expected bindFreePort to skip the already-bound port")
	}
}
