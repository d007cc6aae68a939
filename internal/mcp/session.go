package mcp

import (
	"sort"
	"strings"
	"sync"
)

// SessionState is a session's place in the Uninitialized -> Initialized
// -> Shutdown machine (spec.md §4.8).
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitialized
	StateShutdown
)

// protocolVersion is the server's default/preferred protocol version.
const protocolVersion = "2025-11-25"

// supportedVersions lists every protocolVersion this server accepts
// from a client's initialize request.
var supportedVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-11-25": true,
}

// Session tracks one connection's negotiated state across requests.
type Session struct {
	mu            sync.Mutex
	state         SessionState
	workspaceRoot string
	protocol      string

	searchCount        int
	searchSymbolsCount int
}

// NewSession creates a session pinned to workspaceRoot (resolved once
// at connection setup, e.g. from the proxy's rootUri injection).
func NewSession(workspaceRoot string) *Session {
	return &Session{workspaceRoot: workspaceRoot}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) WorkspaceRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceRoot
}

// Initialize transitions Uninitialized -> Initialized, negotiating the
// protocol version. Returns an error if the client's requested version
// isn't supported, or the session was already initialized.
func (s *Session) Initialize(clientVersion, rootURI string) (negotiated string, err *RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return "", &RPCError{Code: -32600, Message: "Session already initialized"}
	}
	if clientVersion != "" && !supportedVersions[clientVersion] {
		return "", &RPCError{Code: -32602, Message: "Unsupported protocol version", Data: map[string]any{
			"supported": sortedVersions(),
		}}
	}
	negotiated = clientVersion
	if negotiated == "" {
		negotiated = protocolVersion
	}
	if rootURI != "" {
		s.workspaceRoot = strings.TrimPrefix(rootURI, "file://")
	}
	s.protocol = negotiated
	s.state = StateInitialized
	return negotiated, nil
}

// Shutdown transitions to Shutdown from any state.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateShutdown
}

// BumpSearchCounter records that this session ran a search/search_symbols
// call, for the search-first policy's per-session gate (spec.md §4.9,
// §8 invariant 10). kind is "search" or "search_symbols"; anything else
// is a no-op.
func (s *Session) BumpSearchCounter(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case "search":
		s.searchCount++
	case "search_symbols":
		s.searchSymbolsCount++
	}
}

// HasSearched reports whether this session has ever called search or
// search_symbols.
func (s *Session) HasSearched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCount > 0 || s.searchSymbolsCount > 0
}

func sortedVersions() []string {
	out := make([]string, 0, len(supportedVersions))
	for v := range supportedVersions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
