package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/sari-dev/sari/internal/redact"
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolHandler executes one tool call and returns its result payload.
type ToolHandler func(ctx context.Context, workspaceRoot string, args map[string]any) (any, error)

// ToolRegistry resolves a tool name to its handler and lists every
// tool's schema for tools/list.
type ToolRegistry interface {
	Execute(ctx context.Context, name, workspaceRoot string, args map[string]any, session *Session) (any, error)
	ListTools() []ToolSpec
}

// ToolSpec is one tool's advertised schema (spec.md §6).
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// request is an inbound JSON-RPC call paired with the framing mode its
// response must be written back in.
type request struct {
	msg  map[string]any
	mode FramingMode
}

// Server runs one connection's MCP session: reads requests off the
// transport, queues them (bounded, so a slow client can't make the
// server buffer unbounded memory — spec.md §5 backpressure), and
// dispatches each to the tool registry on a worker pool.
type Server struct {
	transport *Transport
	session   *Session
	tools     ToolRegistry
	debugLog  func(direction string, payload any)

	queue      chan request
	writeMu    sync.Mutex
	workerWG   sync.WaitGroup
}

// NewServer constructs a Server. queueSize bounds the pending-request
// queue (spec.md §6 SARI_MCP_QUEUE_SIZE, default 1000); a full queue
// rejects new requests with -32003 rather than blocking the reader.
func NewServer(r io.Reader, w io.Writer, workspaceRoot string, tools ToolRegistry, queueSize int, debugLog func(string, any)) *Server {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if debugLog == nil {
		debugLog = func(string, any) {}
	}
	return &Server{
		transport: NewTransport(r, w),
		session:   NewSession(workspaceRoot),
		tools:     tools,
		debugLog:  debugLog,
		queue:     make(chan request, queueSize),
	}
}

// Run reads and dispatches requests until the stream closes or ctx is
// cancelled. It starts a small worker pool so tool calls execute
// concurrently while preserving per-response write serialization.
func (s *Server) Run(ctx context.Context) {
	const workers = 4
	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go s.workerLoop(ctx)
	}

	for {
		msg, mode, err := s.transport.ReadMessage()
		if err != nil {
			break
		}
		s.debugLog("IN", redact.SanitizeValue(msg, ""))

		select {
		case s.queue <- request{msg: msg, mode: mode}:
		default:
			if id, ok := msg["id"]; ok {
				s.writeError(id, mode, -32003, "request queue full, try again later", nil)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(s.queue)
	s.workerWG.Wait()
	s.session.Shutdown()
}

func (s *Server) workerLoop(ctx context.Context) {
	defer s.workerWG.Done()
	for req := range s.queue {
		s.handle(ctx, req)
	}
}

func (s *Server) handle(ctx context.Context, req request) {
	method, _ := req.msg["method"].(string)
	id, hasID := req.msg["id"]
	params, _ := req.msg["params"].(map[string]any)

	if !hasID {
		return // notification: no response expected
	}

	result, rpcErr := s.dispatch(ctx, method, params)
	if rpcErr != nil {
		s.writeError(id, req.mode, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.writeResult(id, req.mode, result)
}

func (s *Server) dispatch(ctx context.Context, method string, params map[string]any) (any, *RPCError) {
	switch method {
	case "initialize":
		return s.handleInitialize(params)
	case "initialized", "notifications/initialized", "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": s.tools.ListTools()}, nil
	case "prompts/list":
		return map[string]any{"prompts": []any{}}, nil
	case "resources/list":
		return map[string]any{"resources": []any{}}, nil
	case "resources/templates/list":
		return map[string]any{"resourceTemplates": []any{}}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, params)
	default:
		return nil, &RPCError{Code: -32601, Message: "Method not found: " + method}
	}
}

func (s *Server) handleInitialize(params map[string]any) (any, *RPCError) {
	clientVersion, _ := params["protocolVersion"].(string)
	rootURI, _ := params["rootUri"].(string)
	if rootURI == "" {
		rootURI, _ = params["rootPath"].(string)
	}
	if rootURI == "" {
		if folders, ok := params["workspaceFolders"].([]any); ok && len(folders) > 0 {
			if f, ok := folders[0].(map[string]any); ok {
				rootURI, _ = f["uri"].(string)
			}
		}
	}

	negotiated, err := s.session.Initialize(clientVersion, rootURI)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"protocolVersion": negotiated,
		"serverInfo":      map[string]any{"name": "sari", "version": ServerVersion},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
		},
	}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params map[string]any) (any, *RPCError) {
	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)
	result, err := s.tools.Execute(ctx, name, s.session.WorkspaceRoot(), args, s.session)
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: err.Error()}
	}
	return result, nil
}

func (s *Server) writeResult(id any, mode FramingMode, result any) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
	s.writeResponse(resp, mode)
}

func (s *Server) writeError(id any, mode FramingMode, code int, message string, data any) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id, "error": RPCError{Code: code, Message: message, Data: data}}
	s.writeResponse(resp, mode)
}

func (s *Server) writeResponse(resp map[string]any, mode FramingMode) {
	s.debugLog("OUT", redact.SanitizeValue(toPlainMap(resp), ""))
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.transport.WriteMessage(resp, mode); err != nil {
		slog.Warn("mcp.write_response", "err", err)
	}
}

// toPlainMap round-trips resp through JSON so RPCError (and any other
// struct value) becomes a map[string]any SanitizeValue can walk.
func toPlainMap(resp map[string]any) map[string]any {
	b, err := json.Marshal(resp)
	if err != nil {
		return resp
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return resp
	}
	return out
}
