package proxy

import "testing"

func TestRegistrySlugIsPathSafe(t *testing.T) {
	slug := registrySlug("/home/user/my project")
	if slug == "" {
		t.Fatal("expected a non-empty slug")
	}
	for _, r := range slug {
		if r == '/' {
			t.Errorf("slug %q still contains a path separator", slug)
		}
	}
}

func TestRegistrySlugIsStablePerRoot(t *testing.T) {
	a := registrySlug("/workspace/one")
	b := registrySlug("/workspace/one")
	if a != b {
		t.Errorf("expected a stable slug, got %q and %q", a, b)
	}
	c := registrySlug("/workspace/two")
	if a == c {
		t.Error("expected different roots to produce different slugs")
	}
}

func TestInjectRootURISetsFileScheme(t *testing.T) {
	msg := map[string]any{"method": "initialize"}
	injectRootURI(msg, "/workspace/root")

	params, ok := msg["params"].(map[string]any)
	if !ok {
		t.Fatal("expected params to be populated")
	}
	if params["rootUri"] != "file:///workspace/root" {
		t.Errorf("unexpected rootUri: %v", params["rootUri"])
	}
}

func TestInjectRootURIPreservesExisting(t *testing.T) {
	msg := map[string]any{
		"method": "initialize",
		"params": map[string]any{"rootUri": "file:///already/set"},
	}
	injectRootURI(msg, "/workspace/root")

	params := msg["params"].(map[string]any)
	if params["rootUri"] != "file:///already/set" {
		t.Errorf("expected existing rootUri to be preserved, got %v", params["rootUri"])
	}
}
