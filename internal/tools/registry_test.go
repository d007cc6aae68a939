package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/mcp"
	"github.com/sari-dev/sari/internal/workspace"
)

func newTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package demo\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"), 0o644); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	return dir
}

func TestListToolsAdvertisesCoreSet(t *testing.T) {
	r := New(workspace.NewManager(), config.SearchFirstWarn)
	names := map[string]bool{}
	for _, spec := range r.ListTools() {
		names[spec.Name] = true
		if spec.InputSchema == nil {
			t.Errorf("tool %s has a nil input schema", spec.Name)
		}
	}
	for _, want := range []string{
		"search", "search_symbols", "read_file", "read_symbol", "list_files",
		"repo_candidates", "get_callers", "get_implementations", "status",
		"doctor", "rescan", "index_file", "deckard_guide",
	} {
		if !names[want] {
			t.Errorf("expected tool %q to be registered", want)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New(workspace.NewManager(), config.SearchFirstWarn)
	if _, err := r.Execute(context.Background(), "bogus", t.TempDir(), nil, nil); err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestSearchFirstWarnModeAnnotatesReadBeforeSearch(t *testing.T) {
	dir := newTestWorkspace(t)
	m := workspace.NewManager()
	r := New(m, config.SearchFirstWarn)
	defer m.Release(dir)

	_, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(dir)

	sess := mcp.NewSession(dir)
	result, err := r.Execute(context.Background(), "read_file", dir, map[string]any{"path": "main.go"}, sess)
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	resultMap, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected a map result, got %T", result)
	}
	if resultMap["_warning"] == nil {
		t.Error("expected a search-first warning before any search was recorded")
	}
}

func TestSearchFirstEnforceModeRejectsReadBeforeSearch(t *testing.T) {
	dir := newTestWorkspace(t)
	m := workspace.NewManager()
	r := New(m, config.SearchFirstEnforce)
	defer m.Release(dir)

	_, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(dir)

	sess := mcp.NewSession(dir)
	if _, err := r.Execute(context.Background(), "read_file", dir, map[string]any{"path": "main.go"}, sess); err == nil {
		t.Fatal("expected enforce mode to reject a read before any search")
	}
}

func TestSearchFirstEnforceModeIsPerSessionNotPerWorkspace(t *testing.T) {
	dir := newTestWorkspace(t)
	m := workspace.NewManager()
	r := New(m, config.SearchFirstEnforce)
	defer m.Release(dir)

	_, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(dir)

	searcher := mcp.NewSession(dir)
	if _, err := r.Execute(context.Background(), "search", dir, map[string]any{"query": "Hello"}, searcher); err != nil {
		t.Fatalf("search: %v", err)
	}

	// A brand-new session on the same workspace must still be rejected,
	// even though another session already searched here.
	fresh := mcp.NewSession(dir)
	if _, err := r.Execute(context.Background(), "read_file", dir, map[string]any{"path": "main.go"}, fresh); err == nil {
		t.Fatal("expected a fresh session's first read to be rejected regardless of other sessions' searches")
	}
}

func TestSearchFirstAllowsReadAfterSearch(t *testing.T) {
	dir := newTestWorkspace(t)
	m := workspace.NewManager()
	r := New(m, config.SearchFirstEnforce)
	defer m.Release(dir)

	_, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(dir)

	sess := mcp.NewSession(dir)
	if _, err := r.Execute(context.Background(), "search", dir, map[string]any{"query": "Hello"}, sess); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := r.Execute(context.Background(), "read_file", dir, map[string]any{"path": "main.go"}, sess); err != nil {
		t.Fatalf("expected read_file to succeed after a prior search: %v", err)
	}
}

func TestStatusAndDoctorRoundTrip(t *testing.T) {
	dir := newTestWorkspace(t)
	m := workspace.NewManager()
	r := New(m, config.SearchFirstOff)
	defer m.Release(dir)

	_, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(dir)

	if _, err := r.Execute(context.Background(), "status", dir, nil, nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := r.Execute(context.Background(), "doctor", dir, nil, nil); err != nil {
		t.Fatalf("doctor: %v", err)
	}
}
