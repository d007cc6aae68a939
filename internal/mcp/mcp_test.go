package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestTransportRoundTripContentLength(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	msg := map[string]any{"jsonrpc": "2.0", "id": float64(1), "method": "ping"}
	if err := tr.WriteMessage(msg, FramingContentLength); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, mode, err := tr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mode != FramingContentLength {
		t.Errorf("expected content-length mode, got %v", mode)
	}
	if got["method"] != "ping" {
		t.Errorf("expected method=ping, got %+v", got)
	}
}

func TestTransportRoundTripJSONL(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	msg := map[string]any{"jsonrpc": "2.0", "id": float64(2), "method": "ping"}
	if err := tr.WriteMessage(msg, FramingJSONL); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, mode, err := tr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mode != FramingJSONL {
		t.Errorf("expected jsonl mode, got %v", mode)
	}
	if got["method"] != "ping" {
		t.Errorf("expected method=ping, got %+v", got)
	}
}

func TestSessionInitializeNegotiatesVersion(t *testing.T) {
	s := NewSession("/tmp/ws")
	negotiated, rpcErr := s.Initialize("2024-11-05", "")
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	if negotiated != "2024-11-05" {
		t.Errorf("expected echoed version, got %q", negotiated)
	}
	if s.State() != StateInitialized {
		t.Errorf("expected StateInitialized, got %v", s.State())
	}
}

func TestSessionInitializeRejectsUnsupportedVersion(t *testing.T) {
	s := NewSession("/tmp/ws")
	_, rpcErr := s.Initialize("1999-01-01", "")
	if rpcErr == nil {
		t.Fatal("expected an error for an unsupported protocol version")
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}
}

type fakeToolRegistry struct{}

func (fakeToolRegistry) Execute(ctx context.Context, name, workspaceRoot string, args map[string]any, session *Session) (any, error) {
	return map[string]any{"tool": name, "root": workspaceRoot}, nil
}

func (fakeToolRegistry) ListTools() []ToolSpec {
	return []ToolSpec{{Name: "search", Description: "search the index"}}
}

func TestServerHandlesInitializeAndToolsCall(t *testing.T) {
	initReq := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}` + "\n"
	callReq := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"query":"foo"}}}` + "\n"

	in := strings.NewReader(initReq + callReq)
	var out bytes.Buffer

	srv := NewServer(in, &out, "/tmp/ws", fakeToolRegistry{}, 10, nil)
	srv.Run(context.Background())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %q", len(lines), out.String())
	}

	var initResp map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &initResp); err != nil {
		t.Fatalf("unmarshal init response: %v", err)
	}
	if initResp["id"] != float64(1) {
		t.Errorf("expected id=1, got %+v", initResp)
	}
	if _, ok := initResp["result"]; !ok {
		t.Errorf("expected a result in init response, got %+v", initResp)
	}
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	req := `{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n"
	in := strings.NewReader(req)
	var out bytes.Buffer

	srv := NewServer(in, &out, "/tmp/ws", fakeToolRegistry{}, 10, nil)
	srv.Run(context.Background())

	var resp map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := resp["error"]; !ok {
		t.Errorf("expected an error for an unknown method, got %+v", resp)
	}
}
