package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/store"
)

func newTestIndexer(t *testing.T) (*Indexer, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, "demo", dir, config.DefaultWorkspaceConfig()), dir
}

func TestScanPassIndexesAndExtractsSymbols(t *testing.T) {
	ix, dir := newTestIndexer(t)

	src := "package demo\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ix.ScanPass(context.Background()); err != nil {
		t.Fatalf("ScanPass: %v", err)
	}

	f, ok, err := ix.Store.GetFile("main.go")
	if err != nil || !ok {
		t.Fatalf("GetFile: ok=%v err=%v", ok, err)
	}
	if f.Content != src {
		t.Errorf("content mismatch: got %q", f.Content)
	}

	status := ix.Status()
	if !status.IndexReady {
		t.Error("expected IndexReady after scan")
	}
	if status.ScannedFiles == 0 {
		t.Error("expected ScannedFiles > 0")
	}
}

func TestScanPassDeletesRemovedFiles(t *testing.T) {
	ix, dir := newTestIndexer(t)

	keep := filepath.Join(dir, "keep.go")
	gone := filepath.Join(dir, "gone.go")
	os.WriteFile(keep, []byte("package demo\n"), 0o644)
	os.WriteFile(gone, []byte("package demo\n"), 0o644)

	if err := ix.ScanPass(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, ok, _ := ix.Store.GetFile("gone.go"); !ok {
		t.Fatal("expected gone.go indexed after first scan")
	}

	os.Remove(gone)
	if err := ix.ScanPass(context.Background()); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if _, ok, _ := ix.Store.GetFile("gone.go"); ok {
		t.Error("expected gone.go removed after second scan")
	}
	if _, ok, _ := ix.Store.GetFile("keep.go"); !ok {
		t.Error("expected keep.go to remain")
	}
}

func TestIndexPathsIncremental(t *testing.T) {
	ix, dir := newTestIndexer(t)
	path := filepath.Join(dir, "a.py")
	os.WriteFile(path, []byte("def foo():\n    pass\n"), 0o644)

	if err := ix.IndexPaths(context.Background(), []string{"a.py"}); err != nil {
		t.Fatalf("IndexPaths: %v", err)
	}

	syms, err := ix.Store.SymbolsForPath("a.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) == 0 {
		t.Error("expected at least one symbol extracted for a.py")
	}
}
