package store

import (
	"strings"
	"testing"
)

func seedSearchFixture(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	if err := s.UpsertFiles([]File{
		{Path: "src/user.py", Repo: "demo", MTime: 1000, Size: 20, Content: "class User:\n    pass\n", LastSeen: 1000},
		{Path: "other.txt", Repo: "demo", MTime: 1000, Size: 20, Content: "target target target\n", LastSeen: 1000},
		{Path: "target.txt", Repo: "demo", MTime: 1000, Size: 5, Content: "hello\n", LastSeen: 1000},
	}); err != nil {
		t.Fatalf("seed files: %v", err)
	}
	if err := s.UpsertSymbols([]Symbol{
		{Path: "src/user.py", Name: "User", Kind: "class", Line: 1, Qualname: "demo.src.user.User"},
	}); err != nil {
		t.Fatalf("seed symbols: %v", err)
	}
	return s
}

func TestSearchS1SymbolDefinitionHit(t *testing.T) {
	s := seedSearchFixture(t)
	defer s.Close()

	hits, _, err := s.SearchV2(SearchOptions{Query: "User", Limit: 10, TotalMode: "exact"})
	if err != nil {
		t.Fatalf("SearchV2: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.Path == "src/user.py" {
			found = true
			if !strings.Contains(h.HitReason, "Symbol definition") {
				t.Errorf("expected Symbol definition in reason, got %q", h.HitReason)
			}
			if h.Score < 500 {
				t.Errorf("expected score >= 500, got %v", h.Score)
			}
		}
	}
	if !found {
		t.Fatalf("expected a hit for src/user.py, got %+v", hits)
	}
}

func TestSearchS2ExactFilenameBeatsContentFrequency(t *testing.T) {
	s := seedSearchFixture(t)
	defer s.Close()

	hits, _, err := s.SearchV2(SearchOptions{Query: "target", Limit: 10, TotalMode: "exact"})
	if err != nil {
		t.Fatalf("SearchV2: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Path != "target.txt" {
		t.Fatalf("expected target.txt to rank first, got %s", hits[0].Path)
	}
	if !strings.Contains(hits[0].HitReason, "Exact filename match") {
		t.Errorf("expected Exact filename match reason, got %q", hits[0].HitReason)
	}
}

func TestSearchSnippetContainsWrappedMatch(t *testing.T) {
	s := seedSearchFixture(t)
	defer s.Close()

	hits, _, err := s.SearchV2(SearchOptions{Query: "hello", Limit: 10, SnippetLines: 3})
	if err != nil {
		t.Fatalf("SearchV2: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if !strings.Contains(hits[0].Snippet, ">>>") {
		t.Errorf("expected wrapped match marker in snippet, got %q", hits[0].Snippet)
	}
}

func TestDeletionRemovesFromSearch(t *testing.T) {
	s := seedSearchFixture(t)
	defer s.Close()

	if err := s.UpsertFiles([]File{
		{Path: "doomed.txt", Repo: "demo", MTime: 1, Size: 1, Content: "doomed content", LastSeen: 1},
	}); err != nil {
		t.Fatal(err)
	}
	hits, _, _ := s.SearchV2(SearchOptions{Query: "doomed"})
	if len(hits) == 0 {
		t.Fatal("expected doomed.txt to be found before deletion")
	}

	if _, err := s.DeleteUnseenFiles(2); err != nil {
		t.Fatal(err)
	}
	hits, _, _ = s.SearchV2(SearchOptions{Query: "doomed"})
	if len(hits) != 0 {
		t.Fatalf("expected zero hits after deletion, got %d", len(hits))
	}
}
