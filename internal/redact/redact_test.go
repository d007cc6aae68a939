package redact

import (
	"strings"
	"testing"
)

func TestContentMasksSecrets(t *testing.T) {
	in := `password="hunter2"\napi_key=abc123\ntoken: 'xyz'`
	out := Content(in)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abc123") || strings.Contains(out, "xyz") {
		t.Fatalf("secret leaked through redaction: %q", out)
	}
	if !strings.Contains(out, mask) {
		t.Fatalf("expected mask marker in output: %q", out)
	}
}

func TestSanitizeValueRedactsSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"token": "abc",
		"nested": map[string]any{
			"password": "def",
			"ok":       "fine",
		},
	}
	out := SanitizeValue(in, "").(map[string]any)
	if out["token"] != mask {
		t.Errorf("token not redacted: %v", out["token"])
	}
	nested := out["nested"].(map[string]any)
	if nested["password"] != mask {
		t.Errorf("nested password not redacted: %v", nested["password"])
	}
	if nested["ok"] != "fine" {
		t.Errorf("unrelated key mutated: %v", nested["ok"])
	}
}

func TestSanitizeValueRedactsContentKeys(t *testing.T) {
	in := map[string]any{"content": "hello world"}
	out := SanitizeValue(in, "").(map[string]any)
	if out["content"] != "[REDACTED_TEXT len=11]" {
		t.Errorf("got %v", out["content"])
	}
}

func TestSanitizeValueTruncatesLongStrings(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	in := map[string]any{"other": string(long)}
	out := SanitizeValue(in, "").(map[string]any)
	s := out["other"].(string)
	if len(s) >= 300 {
		t.Errorf("expected truncation, got len=%d", len(s))
	}
}

