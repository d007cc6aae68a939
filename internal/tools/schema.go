package tools

// schemaFor returns the JSON Schema advertised for one tool's
// inputSchema (spec.md §6). Falls back to an empty object schema for
// tools that take no arguments.
func schemaFor(name string) map[string]any {
	if s, ok := schemas[name]; ok {
		return s
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func strArrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

var schemas = map[string]map[string]any{
	"search": {
		"type": "object",
		"properties": map[string]any{
			"query":            strProp("search query text"),
			"repo":             strProp("restrict to a single repo"),
			"limit":            intProp("max results, clamped to 20"),
			"offset":           intProp("pagination offset"),
			"file_types":       strArrayProp("restrict to these file extensions"),
			"path_pattern":     strProp("glob-style path filter"),
			"exclude_patterns": strArrayProp("glob-style path exclusions"),
			"recency_boost":    boolProp("boost recently modified files, default true"),
			"use_regex":        boolProp("interpret query as a regular expression"),
			"case_sensitive":   boolProp("match case-sensitively"),
			"snippet_lines":    intProp("lines of context around each hit"),
		},
		"required": []string{"query"},
	},
	"search_symbols": {
		"type": "object",
		"properties": map[string]any{
			"query": strProp("symbol name or prefix"),
			"limit": intProp("max results, default 20"),
		},
		"required": []string{"query"},
	},
	"read_file": {
		"type": "object",
		"properties": map[string]any{
			"path":       strProp("repo-relative file path"),
			"start_line": intProp("1-based start line, optional"),
			"end_line":   intProp("1-based end line, optional"),
		},
		"required": []string{"path"},
	},
	"read_symbol": {
		"type": "object",
		"properties": map[string]any{
			"path": strProp("repo-relative file path"),
			"name": strProp("symbol name"),
		},
		"required": []string{"path", "name"},
	},
	"list_files": {
		"type": "object",
		"properties": map[string]any{
			"repo":           strProp("restrict to a single repo"),
			"path_pattern":   strProp("glob-style path filter"),
			"file_types":     strArrayProp("restrict to these file extensions"),
			"include_hidden": boolProp("include dotfiles, default false"),
			"limit":          intProp("max rows, default 100"),
			"offset":         intProp("pagination offset"),
		},
	},
	"repo_candidates": {
		"type": "object",
		"properties": map[string]any{
			"query": strProp("search query text"),
			"limit": intProp("max candidates, clamped to 5"),
		},
		"required": []string{"query"},
	},
	"get_callers": {
		"type":       "object",
		"properties": map[string]any{"name": strProp("symbol name")},
		"required":   []string{"name"},
	},
	"get_implementations": {
		"type":       "object",
		"properties": map[string]any{"name": strProp("interface or base symbol name")},
		"required":   []string{"name"},
	},
	"status": {
		"type":       "object",
		"properties": map[string]any{"details": boolProp("include per-repo breakdown")},
	},
	"doctor": {
		"type": "object",
		"properties": map[string]any{
			"include_network": boolProp("probe local loopback TCP connectivity"),
			"include_port":    boolProp("probe daemon port availability"),
			"include_db":      boolProp("check database schema/FTS health"),
			"include_disk":    boolProp("check free disk space"),
			"include_daemon":  boolProp("check daemon/registry liveness"),
			"auto_fix":        boolProp("attempt automatic remediation"),
			"min_disk_gb":     intProp("minimum free disk space to require, in GB"),
			"port":            intProp("port to probe when include_port is set"),
		},
	},
	"rescan":        {"type": "object", "properties": map[string]any{}},
	"deckard_guide": {"type": "object", "properties": map[string]any{}},
	"index_file": {
		"type":       "object",
		"properties": map[string]any{"path": strProp("repo-relative file path to (re)index")},
		"required":   []string{"path"},
	},
}
