package tools

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/mcp"
	"github.com/sari-dev/sari/internal/registry"
	"github.com/sari-dev/sari/internal/store"
	"github.com/sari-dev/sari/internal/workspace"
)

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// handleSearch runs the engine query and packages its result into the
// full tool envelope (spec.md §4.10): the engine's hits/meta carry the
// scoring and total-count facts, and this handler layers on the
// pagination and repo-ranking fields an LLM client needs to decide
// whether to page further or narrow its query.
func handleSearch(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	opts := store.SearchOptions{
		Query:           argString(args, "query"),
		Repo:            argString(args, "repo"),
		Limit:           argInt(args, "limit", 20),
		Offset:          argInt(args, "offset", 0),
		SnippetLines:    argInt(args, "snippet_lines", 5),
		FileTypes:       argStringSlice(args, "file_types"),
		PathPattern:     argString(args, "path_pattern"),
		ExcludePatterns: argStringSlice(args, "exclude_patterns"),
		RecencyBoost:    argBool(args, "recency_boost", true),
		UseRegex:        argBool(args, "use_regex", false),
		CaseSensitive:   argBool(args, "case_sensitive", false),
	}
	if opts.Query == "" {
		return nil, fmt.Errorf("search: query is required")
	}

	hits, meta, err := st.DB.SearchV2(opts)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	scope := opts.Repo
	if scope == "" {
		scope = "workspace"
	}

	totalMode := "exact"
	total := meta.Total
	if meta.Total < 0 {
		totalMode = "approx"
	}

	hasMore := len(hits) == opts.Limit && opts.Limit > 0
	if totalMode == "approx" {
		// The engine doesn't count past the fetched slice in approx
		// mode; surface an "at least this many" floor instead of -1.
		total = int64(opts.Offset + len(hits))
		if hasMore {
			total++
		}
	}
	nextOffset := 0
	if hasMore {
		nextOffset = opts.Offset + opts.Limit
	}

	var warnings []string
	if meta.RegexError != "" {
		warnings = append(warnings, fmt.Sprintf("invalid regex, fell back to substring match: %s", meta.RegexError))
	} else if meta.FallbackUsed {
		warnings = append(warnings, "full-text index unavailable or query required substring fallback")
	}

	repoSummary, _ := st.DB.RepoFileSummary()
	topCandidateRepos, _ := st.DB.RepoCandidates(opts.Query, 5)

	return map[string]any{
		"query":               opts.Query,
		"scope":               scope,
		"total":               total,
		"total_mode":          totalMode,
		"is_exact_total":      meta.IsExactTotal,
		"limit":               opts.Limit,
		"offset":              opts.Offset,
		"has_more":            hasMore,
		"next_offset":         nextOffset,
		"warnings":            warnings,
		"results":             hits,
		"repo_summary":        repoSummary,
		"top_candidate_repos": topCandidateRepos,
		"meta":                meta,
	}, nil
}

func handleSearchSymbols(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("search_symbols: query is required")
	}
	syms, err := st.DB.SearchSymbols(query, argInt(args, "limit", 20))
	if err != nil {
		return nil, fmt.Errorf("search_symbols: %w", err)
	}
	return map[string]any{"symbols": syms}, nil
}

func handleReadFile(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	path := argString(args, "path")
	if path == "" {
		return nil, fmt.Errorf("read_file: path is required")
	}
	f, ok, err := st.DB.GetFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("read_file: %s not found in index", path)
	}
	content := f.Content
	if start := argInt(args, "start_line", 0); start > 0 {
		content = sliceLines(content, start, argInt(args, "end_line", 0))
	}
	return map[string]any{"path": f.Path, "repo": f.Repo, "content": content, "size": f.Size, "mtime": f.MTime}, nil
}

func handleReadSymbol(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	path := argString(args, "path")
	name := argString(args, "name")
	if path == "" || name == "" {
		return nil, fmt.Errorf("read_symbol: path and name are required")
	}
	sym, ok, err := st.DB.GetSymbolBlock(path, name)
	if err != nil {
		return nil, fmt.Errorf("read_symbol: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("read_symbol: %s::%s not found", path, name)
	}
	return map[string]any{"symbol": sym}, nil
}

func handleListFiles(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	opts := store.ListFilesOptions{
		Repo:          argString(args, "repo"),
		PathPattern:   argString(args, "path_pattern"),
		FileTypes:     argStringSlice(args, "file_types"),
		IncludeHidden: argBool(args, "include_hidden", false),
		Limit:         argInt(args, "limit", 100),
		Offset:        argInt(args, "offset", 0),
	}
	files, err := st.DB.ListFiles(opts)
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	if opts.Repo == "" && opts.PathPattern == "" && len(opts.FileTypes) == 0 {
		summary, sumErr := st.DB.RepoFileSummary()
		if sumErr == nil {
			return map[string]any{"files": files, "repo_summary": summary}, nil
		}
	}
	return map[string]any{"files": files}, nil
}

func handleRepoCandidates(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("repo_candidates: query is required")
	}
	candidates, err := st.DB.RepoCandidates(query, argInt(args, "limit", 5))
	if err != nil {
		return nil, fmt.Errorf("repo_candidates: %w", err)
	}
	return map[string]any{"candidates": candidates}, nil
}

func handleGetCallers(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	name := argString(args, "name")
	if name == "" {
		return nil, fmt.Errorf("get_callers: name is required")
	}
	rels, err := st.DB.GetCallers(name)
	if err != nil {
		return nil, fmt.Errorf("get_callers: %w", err)
	}
	return map[string]any{"callers": rels}, nil
}

func handleGetImplementations(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	name := argString(args, "name")
	if name == "" {
		return nil, fmt.Errorf("get_implementations: name is required")
	}
	rels, err := st.DB.GetImplementations(name)
	if err != nil {
		return nil, fmt.Errorf("get_implementations: %w", err)
	}
	return map[string]any{"implementations": rels}, nil
}

func handleStatus(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	idx, err := st.DB.GetIndexStatus()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	ixStatus := st.Indexer.Status()
	result := map[string]any{
		"workspace_root": st.Root,
		"server_version": mcp.ServerVersion,
		"repo":           st.RepoName,
		"index_ready":    ixStatus.IndexReady,
		"last_scan_ts":   ixStatus.LastScanTS,
		"scanned_files":  ixStatus.ScannedFiles,
		"indexed_files":  ixStatus.IndexedFiles,
		"errors":         ixStatus.Errors,
		"total_files":    idx.TotalFiles,
		"db_size_bytes":  idx.DBSizeBytes,
		"fts_enabled":    st.DB.FTSEnabled(),
	}
	if argBool(args, "details", false) {
		if summary, sumErr := st.DB.RepoFileSummary(); sumErr == nil {
			result["repo_stats"] = summary
		}
	}
	return result, nil
}

// handleDoctor runs the diagnostics its schema advertises (spec.md
// §4.10): DB/FTS health always, and network/port/disk/daemon probes
// opt-in via the matching include_* argument, mirroring how status
// gates its per-repo breakdown behind details.
func handleDoctor(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	failed, _ := st.DB.ListFailedTasks()
	counters, _ := st.DB.GetContextCounters(st.Root)
	idx, err := st.DB.GetIndexStatus()

	result := map[string]any{
		"workspace_root":            st.Root,
		"db_path":                   st.DB.Path(),
		"fts_enabled":               st.DB.FTSEnabled(),
		"total_files":               idx.TotalFiles,
		"failed_tasks":              failed,
		"search_count":              counters.SearchCount,
		"search_symbols_count":      counters.SearchSymbolsCount,
		"read_without_search_count": counters.ReadWithoutSearchCount,
	}

	if argBool(args, "include_db", true) {
		result["db_ok"] = err == nil
	}

	if argBool(args, "include_port", false) {
		port := argInt(args, "port", config.DefaultPort)
		result["port_probed"] = port
		result["port_available"] = probeLocalPort(port)
	}

	if argBool(args, "include_disk", false) {
		minGB := argInt(args, "min_disk_gb", 1)
		freeGB, statErr := freeDiskGB(st.Root)
		if statErr != nil {
			result["disk_error"] = statErr.Error()
		} else {
			result["disk_free_gb"] = freeGB
			result["disk_ok"] = freeGB >= float64(minGB)
		}
	}

	if argBool(args, "include_daemon", false) {
		reg, regErr := registry.Open(registry.DefaultPath())
		if regErr != nil {
			result["daemon_error"] = regErr.Error()
		} else {
			info, bootID, ok := reg.ResolveWorkspaceDaemon(st.Root)
			result["daemon_running"] = ok
			if ok {
				result["daemon_pid"] = info.PID
				result["daemon_boot_id"] = bootID
			}
		}
	}

	if argBool(args, "include_network", false) {
		result["network_ok"] = probeLoopback()
	}

	if argBool(args, "auto_fix", false) && len(failed) > 0 {
		result["auto_fixed"] = autoFixFailedTasks(ctx, st, failed)
	}

	return result, nil
}

// probeLocalPort reports whether 127.0.0.1:port can be bound right
// now — a free port for the daemon to claim.
func probeLocalPort(port int) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// probeLoopback confirms the local TCP stack can bind and connect to
// itself, a coarse stand-in for "does networking work at all" on a
// tool that otherwise never dials out.
func probeLoopback() bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return false
	}
	defer ln.Close()
	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// freeDiskGB reports free disk space at path in gibibytes.
func freeDiskGB(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize)
	return float64(freeBytes) / (1024 * 1024 * 1024), nil
}

// autoFixFailedTasks re-indexes every DLQ path and clears the ones that
// succeed this time, surfacing ClearFailedTask — previously unused —
// as doctor's remediation step.
func autoFixFailedTasks(ctx context.Context, st *workspace.SharedState, failed []store.FailedTask) int {
	fixed := 0
	for _, t := range failed {
		_ = st.Indexer.IndexPaths(ctx, []string{t.Path})
		if _, ok, getErr := st.DB.GetFile(t.Path); getErr == nil && ok {
			if clearErr := st.DB.ClearFailedTask(t.Path); clearErr == nil {
				fixed++
			}
		}
	}
	return fixed
}

func handleRescan(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	if err := st.Indexer.ScanPass(ctx); err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	return map[string]any{"status": st.Indexer.Status()}, nil
}

func handleIndexFile(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	path := argString(args, "path")
	if path == "" {
		return nil, fmt.Errorf("index_file: path is required")
	}
	if err := st.Indexer.IndexPaths(ctx, []string{path}); err != nil {
		return nil, fmt.Errorf("index_file: %w", err)
	}
	return map[string]any{"indexed": path}, nil
}

func handleGuide(ctx context.Context, st *workspace.SharedState, args map[string]any) (any, error) {
	return map[string]any{
		"guide": strings.TrimSpace(`
Start with search or search_symbols to locate relevant code before
reading whole files. Use get_callers/get_implementations to trace
relationships once you have a symbol name. read_file and read_symbol
pull exact content once you know what you're after.
`),
	}, nil
}

// sliceLines returns content restricted to [start, end] (1-based,
// inclusive); end<=0 means "to the end of file".
func sliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
