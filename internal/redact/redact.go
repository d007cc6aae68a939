// Package redact is the streaming transformer spec.md §9 calls for:
// applied once at the ingestion boundary (file content before it reaches
// the store) and once at the logging boundary (MCP debug traffic), so
// callers never need to remember to redact.
package redact

import (
	"regexp"
	"strconv"
	"strings"
)

// contentPatterns mask secret-shaped assignments in ingested file
// content (spec.md §4.3): password=, token=, api_key=, secret=, with
// quoted or bare values.
var contentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password\s*[:=]\s*)(['"]?)([^'"\s]+)(['"]?)`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*)(['"]?)([^'"\s]+)(['"]?)`),
	regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)(['"]?)([^'"\s]+)(['"]?)`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*)(['"]?)([^'"\s]+)(['"]?)`),
}

const mask = "[REDACTED]"

// Content masks secret-shaped assignments in file text before it is
// written to the store or used for snippet generation.
func Content(text string) string {
	for _, re := range contentPatterns {
		text = re.ReplaceAllString(text, "${1}${2}"+mask+"${4}")
	}
	return text
}

// sensitiveKeys are the MCP debug-log argument keys whose values are
// always replaced with [REDACTED], ported from
// original_source/sari/mcp/server.py _sanitize_value.
var sensitiveKeys = map[string]bool{
	"token": true, "secret": true, "password": true, "api_key": true,
	"apikey": true, "authorization": true, "cookie": true, "key": true,
}

// contentLikeKeys are keys whose values are long text blobs; they are
// replaced with a length marker instead of being dropped outright, so
// the log still shows how much text was present.
var contentLikeKeys = map[string]bool{
	"content": true, "text": true, "source": true, "snippet": true, "body": true,
}

const maxLoggedStringLen = 200

// SanitizeValue recursively redacts a decoded JSON value for MCP debug
// logging, matching original_source/sari/mcp/server.py's key-based and
// length-based rules. keyHint is the map key this value was found
// under, or "" at the top level.
func SanitizeValue(v any, keyHint string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			lk := lower(k)
			switch {
			case sensitiveKeys[lk]:
				out[k] = mask
			case contentLikeKeys[lk]:
				out[k] = redactedText(vv)
			default:
				out[k] = SanitizeValue(vv, lk)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = SanitizeValue(vv, keyHint)
		}
		return out
	case string:
		if len(val) > maxLoggedStringLen {
			return val[:maxLoggedStringLen] + "…"
		}
		return val
	default:
		return val
	}
}

func redactedText(v any) string {
	s, ok := v.(string)
	n := 0
	if ok {
		n = len(s)
	}
	return "[REDACTED_TEXT len=" + strconv.Itoa(n) + "]"
}

func lower(s string) string {
	return strings.ToLower(s)
}
