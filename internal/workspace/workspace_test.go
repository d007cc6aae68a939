package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireReleaseRefcounts(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package demo\n"), 0o644)

	m := NewManager()
	st1, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	st2, err := m.Acquire(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if st1 != st2 {
		t.Error("expected the same SharedState for the same root")
	}

	if err := m.Release(dir); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if _, ok := m.Get(dir); !ok {
		t.Error("expected SharedState to remain while a reference is outstanding")
	}

	if err := m.Release(dir); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, ok := m.Get(dir); ok {
		t.Error("expected SharedState to be torn down after the last Release")
	}
}

func TestSlugIsStablePerAbsPath(t *testing.T) {
	dir := t.TempDir()
	if Slug(dir) != Slug(dir) {
		t.Error("expected Slug to be deterministic for the same path")
	}
	if Slug(dir) == Slug(dir+"2") {
		t.Error("expected different paths to slug differently")
	}
}
