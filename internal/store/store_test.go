package store

import "testing"

func TestOpenMemory(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()
}

func TestUpsertFilesMonotonicity(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := s.UpsertFiles([]File{{Path: "a.go", Repo: "r", MTime: 1000, Size: 5, Content: "hello"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertFiles([]File{{Path: "a.go", Repo: "r", MTime: 500, Size: 9, Content: "stale"}}); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	f, ok, err := s.GetFile("a.go")
	if err != nil || !ok {
		t.Fatalf("GetFile: ok=%v err=%v", ok, err)
	}
	if f.Content != "hello" {
		t.Errorf("stale write overwrote content: got %q", f.Content)
	}
}

func TestUpsertSymbolsAtomicPerPath(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := s.UpsertFiles([]File{{Path: "a.go", Repo: "r", MTime: 1, Size: 1, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSymbols([]Symbol{
		{Path: "a.go", Name: "Foo", Kind: "function", Line: 1, Qualname: "a.Foo"},
		{Path: "a.go", Name: "Bar", Kind: "function", Line: 5, Qualname: "a.Bar"},
	}); err != nil {
		t.Fatal(err)
	}

	syms, err := s.SymbolsForPath("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(syms))
	}

	// Re-upsert the file: symbols must be cleared, then a fresh
	// UpsertSymbols call fully replaces the set for that path.
	if err := s.UpsertFiles([]File{{Path: "a.go", Repo: "r", MTime: 2, Size: 1, Content: "y"}}); err != nil {
		t.Fatal(err)
	}
	syms, err = s.SymbolsForPath("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 0 {
		t.Fatalf("expected symbols cleared after file re-upsert, got %d", len(syms))
	}

	if err := s.UpsertSymbols([]Symbol{
		{Path: "a.go", Name: "Baz", Kind: "function", Line: 1, Qualname: "a.Baz"},
	}); err != nil {
		t.Fatal(err)
	}
	syms, err = s.SymbolsForPath("a.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 1 || syms[0].Name != "Baz" {
		t.Fatalf("expected exactly [Baz], got %+v", syms)
	}
}

func TestDeleteUnseenFiles(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := s.UpsertFiles([]File{
		{Path: "keep.go", Repo: "r", MTime: 1, Size: 1, Content: "k", LastSeen: 100},
		{Path: "gone.go", Repo: "r", MTime: 1, Size: 1, Content: "g", LastSeen: 50},
	}); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteUnseenFiles(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "gone.go" {
		t.Fatalf("expected [gone.go] deleted, got %v", deleted)
	}

	if _, ok, _ := s.GetFile("gone.go"); ok {
		t.Error("gone.go should no longer exist")
	}
	if _, ok, _ := s.GetFile("keep.go"); !ok {
		t.Error("keep.go should still exist")
	}
}
