// Package tools implements the MCP tool surface (spec.md §4.9/§4.10):
// one handler per tool, a search-first policy middleware, and the JSON
// Schema each tool advertises via tools/list.
package tools

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/mcp"
	"github.com/sari-dev/sari/internal/telemetry"
	"github.com/sari-dev/sari/internal/workspace"
)

// Handler executes one tool call against an acquired workspace.
type Handler func(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error)

// readTools are gated by the search-first policy: calling one before
// a search/search_symbols in the same workspace is a warn or reject,
// depending on mode (spec.md §4.9).
var readTools = map[string]bool{
	"read_file": true, "read_symbol": true,
}

type entry struct {
	spec    mcp.ToolSpec
	handler Handler
}

// Registry dispatches tools/call to the right handler, acquiring and
// releasing the target workspace's SharedState around each call.
type Registry struct {
	manager *workspace.Manager
	mode    config.SearchFirstMode
	entries map[string]entry
}

// New builds the default tool registry.
func New(manager *workspace.Manager, mode config.SearchFirstMode) *Registry {
	r := &Registry{manager: manager, mode: mode, entries: map[string]entry{}}
	r.register("search", "full-text and symbol search across the indexed workspace", handleSearch)
	r.register("search_symbols", "name-prefix/fuzzy search over indexed symbols", handleSearchSymbols)
	r.register("read_file", "read a file's full decompressed content", handleReadFile)
	r.register("read_symbol", "read one symbol's block, metadata, and docstring", handleReadSymbol)
	r.register("list_files", "list or summarize indexed files", handleListFiles)
	r.register("repo_candidates", "rank repos by relevance to a query", handleRepoCandidates)
	r.register("get_callers", "list call sites of a symbol", handleGetCallers)
	r.register("get_implementations", "list implementations/extensions of a symbol", handleGetImplementations)
	r.register("status", "report indexer readiness and database stats", handleStatus)
	r.register("doctor", "run structured diagnostics against the workspace", handleDoctor)
	r.register("rescan", "trigger a full indexer scan pass", handleRescan)
	r.register("index_file", "index or re-index a single file", handleIndexFile)
	r.register("deckard_guide", "short usage preamble for LLM self-orientation", handleGuide)
	return r
}

func (r *Registry) register(name, description string, h Handler) {
	r.entries[name] = entry{
		spec:    mcp.ToolSpec{Name: name, Description: description, InputSchema: schemaFor(name)},
		handler: h,
	}
}

// ListTools implements mcp.ToolRegistry.
func (r *Registry) ListTools() []mcp.ToolSpec {
	out := make([]mcp.ToolSpec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.spec)
	}
	return out
}

// Execute implements mcp.ToolRegistry: acquires the workspace, applies
// the search-first policy, runs the handler, releases the workspace.
// session carries this connection's per-session search-first counters
// (spec.md §4.9); callers with no live connection (the CLI's one-shot
// invocations, tests) may pass nil, which behaves like a brand-new
// session that has never searched.
func (r *Registry) Execute(ctx context.Context, name, workspaceRoot string, args map[string]any, session *mcp.Session) (any, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if session == nil {
		session = mcp.NewSession(workspaceRoot)
	}

	st, err := r.manager.Acquire(ctx, workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace %s: %w", workspaceRoot, err)
	}
	defer r.manager.Release(workspaceRoot)

	warning := r.applyPolicy(st, session, name)
	if warning != "" && r.mode == config.SearchFirstEnforce {
		return nil, fmt.Errorf("search-first policy: %s", warning)
	}

	start := time.Now()
	result, err := e.handler(ctx, st, args)
	telemetry.Log(telemetry.ToolCall{
		Tool:         name,
		Query:        argString(args, "query"),
		Results:      resultCount(result),
		SnippetChars: 0,
		Latency:      time.Since(start),
		Err:          err,
	})
	if err != nil {
		return nil, err
	}
	if warning != "" {
		return wrapWithWarning(result, warning), nil
	}
	return result, nil
}

// applyPolicy bumps session's and the workspace's usage counters and,
// in warn mode, returns a non-empty message when a read tool runs
// before any search this session has recorded. The live enforcement
// decision is gated on session's in-memory, per-connection counter
// (spec.md §4.9, §8 invariant 10) — a fresh session must search before
// its first read regardless of what other sessions on this workspace
// have done. The workspace-scoped DB counters (store/contexts.go) are
// bumped alongside for doctor's cross-restart diagnostic only.
func (r *Registry) applyPolicy(st *workspace.SharedState, session *mcp.Session, name string) string {
	switch name {
	case "search":
		session.BumpSearchCounter("search")
		_ = st.DB.BumpContextCounter(st.Root, "search", 1)
		return ""
	case "search_symbols":
		session.BumpSearchCounter("search_symbols")
		_ = st.DB.BumpContextCounter(st.Root, "search_symbols", 1)
		return ""
	}
	if !readTools[name] || r.mode == config.SearchFirstOff {
		return ""
	}
	if session.HasSearched() {
		return ""
	}
	_ = st.DB.BumpContextCounter(st.Root, "read_without_search", 1)
	return "consider calling search or search_symbols before reading a specific file or symbol"
}

func wrapWithWarning(result any, warning string) any {
	m, ok := result.(map[string]any)
	if !ok {
		return map[string]any{"result": result, "warning": warning}
	}
	m["_warning"] = warning
	return m
}

// resultCount reports how many rows a handler's response carries, for
// telemetry, by checking the conventional list-shaped fields handlers
// populate (results, symbols, candidates, files, callers, implementations).
func resultCount(result any) int {
	m, ok := result.(map[string]any)
	if !ok {
		return 0
	}
	for _, key := range []string{"results", "symbols", "candidates", "files", "callers", "implementations"} {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			return rv.Len()
		}
	}
	return 0
}
