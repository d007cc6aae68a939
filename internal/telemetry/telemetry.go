// Package telemetry logs one line per tool call (spec.md §4.10), with
// any sensitive argument values redacted before they reach the log.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sari-dev/sari/internal/redact"
)

// ToolCall describes one completed tool invocation.
type ToolCall struct {
	Tool         string
	Query        string
	Results      int
	SnippetChars int
	Latency      time.Duration
	Err          error
}

// Log emits the call as a single structured line: spec.md's canonical
// format is `tool=search query='…' results=N snippet_chars=M
// latency=Kms`, generalized here to every tool (query/results/
// snippet_chars are omitted when a tool doesn't populate them).
func Log(c ToolCall) {
	attrs := []any{"tool", c.Tool, "latency_ms", c.Latency.Milliseconds()}
	if c.Query != "" {
		attrs = append(attrs, "query", redact.Content(c.Query))
	}
	if c.Results > 0 {
		attrs = append(attrs, "results", c.Results)
	}
	if c.SnippetChars > 0 {
		attrs = append(attrs, "snippet_chars", c.SnippetChars)
	}

	line := formatLine(c)
	if c.Err != nil {
		slog.Warn(line, append(attrs, "err", c.Err.Error())...)
		return
	}
	slog.Info(line, attrs...)
}

// formatLine builds the human-grep-able logfmt-style summary spec.md
// §4.10 shows for search; other tools get the same shape minus the
// fields that don't apply.
func formatLine(c ToolCall) string {
	s := fmt.Sprintf("tool=%s", c.Tool)
	if c.Query != "" {
		s += fmt.Sprintf(" query=%q", redact.Content(c.Query))
	}
	if c.Results > 0 {
		s += fmt.Sprintf(" results=%d", c.Results)
	}
	if c.SnippetChars > 0 {
		s += fmt.Sprintf(" snippet_chars=%d", c.SnippetChars)
	}
	s += fmt.Sprintf(" latency=%dms", c.Latency.Milliseconds())
	return s
}
