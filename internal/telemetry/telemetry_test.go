package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestFormatLineMatchesSearchShape(t *testing.T) {
	line := formatLine(ToolCall{
		Tool:         "search",
		Query:        "foo bar",
		Results:      3,
		SnippetChars: 120,
		Latency:      42 * time.Millisecond,
	})
	for _, want := range []string{"tool=search", `query="foo bar"`, "results=3", "snippet_chars=120", "latency=42ms"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected line to contain %q, got %q", want, line)
		}
	}
}

func TestFormatLineOmitsUnsetFields(t *testing.T) {
	line := formatLine(ToolCall{Tool: "status", Latency: time.Millisecond})
	if strings.Contains(line, "query=") || strings.Contains(line, "results=") {
		t.Errorf("expected unset fields to be omitted, got %q", line)
	}
}
