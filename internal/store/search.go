package store

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// SearchOptions is the search tool's input DTO (spec.md §3). Limits are
// clamped by ClampSearchOptions before a query runs.
type SearchOptions struct {
	Query           string
	Repo            string
	Limit           int
	Offset          int
	SnippetLines    int
	FileTypes       []string
	PathPattern     string
	ExcludePatterns []string
	RecencyBoost    bool
	UseRegex        bool
	CaseSensitive   bool
	TotalMode       string // "exact" | "approx" | "" (auto)
}

// ClampSearchOptions enforces spec.md §3's documented maxima.
func ClampSearchOptions(o SearchOptions) SearchOptions {
	switch {
	case o.Limit < 1:
		o.Limit = 20
	case o.Limit > 20:
		o.Limit = 20
	}
	if o.SnippetLines < 1 {
		o.SnippetLines = 5
	} else if o.SnippetLines > 20 {
		o.SnippetLines = 20
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// SearchHit is the search tool's output DTO (spec.md §3).
type SearchHit struct {
	Repo          string
	Path          string
	Score         float64
	HitReason     string
	Snippet       string
	MTime         int64
	Size          int64
	MatchCount    int
	FileType      string
	ContextSymbol string
}

// SearchMeta carries the engine-level facts the tool layer packages
// into its envelope (spec.md §4.2/§4.10).
type SearchMeta struct {
	Total        int64
	IsExactTotal bool
	FallbackUsed bool
	RegexError   string
}

const (
	exactFilenameBoost  = 1000.0
	filenameStemBoost   = 300.0
	dirSegmentBoost     = 150.0
	symbolDefBoost      = 500.0
	tagMatchBoost       = 100.0
	highPriorityBoost   = 100.0
	highPriorityMin     = 50
	recencyBoostCap     = 200.0
	recencyDecayDays    = 30.0

	approxTotalFileThreshold = 150_000
	approxTotalRepoThreshold = 50
	approxMidFileThreshold   = 50_000
)

// candidateRow is the raw file row before hybrid scoring.
type candidateRow struct {
	Path       string
	Repo       string
	MTime      int64
	Size       int64
	Content    string
	MatchCount int
}

// SearchV2 translates opts into the FTS or LIKE execution path, scores
// every candidate, orders by score desc/mtime desc/path asc, and
// applies offset/limit (spec.md §4.2).
func (s *Store) SearchV2(opts SearchOptions) ([]SearchHit, SearchMeta, error) {
	opts = ClampSearchOptions(opts)
	meta := SearchMeta{}

	terms := extractTerms(opts.Query, opts.CaseSensitive)
	isASCIIQuery := isASCII(opts.Query)
	useFallback := !s.ftsEnabled || !isASCIIQuery || opts.UseRegex

	overfetch := (opts.Offset + opts.Limit) * 5
	if overfetch < 200 {
		overfetch = 200
	}

	var candidates []candidateRow
	var err error
	var regexErr error

	if !useFallback {
		candidates, err = s.searchFTS(opts, overfetch)
		if err != nil {
			// FTS syntax error: degrade to LIKE rather than fail the request.
			useFallback = true
			meta.FallbackUsed = true
		}
	}
	if useFallback {
		meta.FallbackUsed = true
		var re *regexp.Regexp
		if opts.UseRegex {
			re, regexErr = regexp.Compile(opts.Query)
			if regexErr != nil {
				meta.RegexError = regexErr.Error()
			}
		}
		candidates, err = s.searchLike(opts, re, overfetch)
	}
	if err != nil {
		return nil, meta, fmt.Errorf("search: %w", err)
	}

	candidates = applyExcludePatterns(candidates, opts.ExcludePatterns)
	if len(opts.ExcludePatterns) > 0 {
		meta.IsExactTotal = false
	}

	repoMeta, _ := s.AllRepoMeta()
	hasSymbolDef := s.symbolDefinitionPaths(terms)

	hits := make([]SearchHit, 0, len(candidates))
	for _, c := range candidates {
		score, reason := scoreHit(c, terms, opts, repoMeta, hasSymbolDef)
		snippet := buildSnippet(c.Content, terms, opts.SnippetLines, opts.CaseSensitive)
		matchLine := firstMatchLineIndex(c.Content, terms, opts.CaseSensitive)
		hits = append(hits, SearchHit{
			Repo: c.Repo, Path: c.Path, Score: score, HitReason: reason,
			Snippet: snippet, MTime: c.MTime, Size: c.Size,
			MatchCount: c.MatchCount, FileType: path.Ext(c.Path),
			ContextSymbol: s.enclosingSymbol(c.Path, matchLine+1),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].MTime != hits[j].MTime {
			return hits[i].MTime > hits[j].MTime
		}
		return hits[i].Path < hits[j].Path
	})

	total := int64(len(hits))
	mode := opts.TotalMode
	if mode == "" {
		mode = s.pickTotalMode(total, repoMeta, opts)
	}
	if len(opts.ExcludePatterns) > 0 {
		mode = "approx"
	}
	if mode == "exact" {
		meta.Total = total
		meta.IsExactTotal = len(opts.ExcludePatterns) == 0
	} else {
		meta.Total = -1
		meta.IsExactTotal = false
	}

	start := opts.Offset
	if start > len(hits) {
		start = len(hits)
	}
	end := start + opts.Limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[start:end], meta, nil
}

// pickTotalMode applies spec.md §4.2's approximate-total heuristic: a
// workspace large enough that an exact count is expensive (more files
// than approxTotalFileThreshold, or more repos than
// approxTotalRepoThreshold) always gets an approximate total; a
// mid-sized workspace (approxMidFileThreshold..approxTotalFileThreshold
// files) also gets one once a path_pattern narrows the scan, since the
// LIKE-filtered count no longer benefits from the files table's
// indexes.
func (s *Store) pickTotalMode(_ int64, repoMeta map[string]RepoMeta, opts SearchOptions) string {
	status, err := s.GetIndexStatus()
	if err != nil {
		return "exact"
	}
	if status.TotalFiles > approxTotalFileThreshold || len(repoMeta) > approxTotalRepoThreshold {
		return "approx"
	}
	if status.TotalFiles >= approxMidFileThreshold && opts.PathPattern != "" {
		return "approx"
	}
	return "exact"
}

func (s *Store) searchFTS(opts SearchOptions, limit int) ([]candidateRow, error) {
	if !s.ftsEnabled {
		return nil, fmt.Errorf("fts unavailable")
	}
	match := buildFTSMatch(opts.Query)
	query := `SELECT f.path, f.repo, f.mtime, f.size, decompress(f.content_compressed)
		FROM files f
		WHERE (f.path IN (SELECT path FROM files_fts WHERE files_fts MATCH ?) OR f.path LIKE ?)`
	args := []any{match, "%" + opts.Query + "%"}
	query, args = appendFileFilters(query, args, opts)
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []candidateRow
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.Path, &c.Repo, &c.MTime, &c.Size, &c.Content); err != nil {
			return nil, err
		}
		c.MatchCount = strings.Count(strings.ToLower(c.Content), strings.ToLower(opts.Query))
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) searchLike(opts SearchOptions, re *regexp.Regexp, limit int) ([]candidateRow, error) {
	query := `SELECT path, repo, mtime, size, decompress(content_compressed) FROM files WHERE 1=1`
	var args []any
	if re == nil {
		query += ` AND (decompress(content_compressed) LIKE ? OR path LIKE ?)`
		args = append(args, "%"+opts.Query+"%", "%"+opts.Query+"%")
	}
	query, args = appendFileFilters(query, args, opts)
	query += ` LIMIT ?`
	args = append(args, limit*4) // regex filtering happens in Go, overfetch more

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []candidateRow
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.Path, &c.Repo, &c.MTime, &c.Size, &c.Content); err != nil {
			return nil, err
		}
		if re != nil {
			matches := re.FindAllString(c.Content, -1)
			if len(matches) == 0 && !re.MatchString(c.Path) {
				continue
			}
			c.MatchCount = len(matches)
		} else {
			content := c.Content
			q := opts.Query
			if !opts.CaseSensitive {
				content = strings.ToLower(content)
				q = strings.ToLower(q)
			}
			c.MatchCount = strings.Count(content, q)
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// appendFileFiltersCols appends repo/path-pattern/file-type predicates.
// repoCol/pathCol let the FTS query (aliased "f") and the plain files
// query (unaliased) share this builder.
func appendFileFiltersCols(query string, args []any, opts SearchOptions, repoCol, pathCol string) (string, []any) {
	if opts.Repo != "" {
		query += fmt.Sprintf(` AND %s = ?`, repoCol)
		args = append(args, opts.Repo)
	}
	if opts.PathPattern != "" {
		query += fmt.Sprintf(` AND %s LIKE ?`, pathCol)
		args = append(args, globToLike(opts.PathPattern))
	}
	if len(opts.FileTypes) > 0 {
		query += ` AND (`
		for i, ft := range opts.FileTypes {
			if i > 0 {
				query += ` OR `
			}
			query += pathCol + ` LIKE ?`
			args = append(args, "%"+ft)
		}
		query += `)`
	}
	return query, args
}

func appendFileFilters(query string, args []any, opts SearchOptions) (string, []any) {
	if strings.Contains(query, "FROM files WHERE") && !strings.Contains(query, "files_fts") {
		return appendFileFiltersCols(query, args, opts, "repo", "path")
	}
	return appendFileFiltersCols(query, args, opts, "f.repo", "f.path")
}

func globToLike(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "**", "%")
	pattern = strings.ReplaceAll(pattern, "*", "%")
	return pattern
}

func applyExcludePatterns(rows []candidateRow, excludes []string) []candidateRow {
	if len(excludes) == 0 {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		excluded := false
		for _, ex := range excludes {
			if matched, _ := path.Match(ex, r.Path); matched {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, r)
		}
	}
	return out
}

func buildFTSMatch(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " AND ")
}

func extractTerms(query string, caseSensitive bool) []string {
	fields := strings.Fields(query)
	if !caseSensitive {
		for i, f := range fields {
			fields[i] = strings.ToLower(f)
		}
	}
	return fields
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// symbolDefinitionPaths returns the set of paths containing a symbol
// definition whose name matches one of terms.
func (s *Store) symbolDefinitionPaths(terms []string) map[string]bool {
	out := map[string]bool{}
	if len(terms) == 0 {
		return out
	}
	for _, t := range terms {
		rows, err := s.q.Query(`SELECT DISTINCT path FROM symbols WHERE name LIKE ?`, "%"+t+"%")
		if err != nil {
			continue
		}
		for rows.Next() {
			var p string
			if rows.Scan(&p) == nil {
				out[p] = true
			}
		}
		rows.Close()
	}
	return out
}

// enclosingSymbol returns the name of the nearest indexed symbol in
// path whose line range contains line (spec.md §3's ContextSymbol),
// preferring the most deeply nested match by walking candidates
// starting at line and working backward.
func (s *Store) enclosingSymbol(filePath string, line int) string {
	if line <= 0 {
		return ""
	}
	rows, err := s.q.Query(
		`SELECT name, end_line FROM symbols WHERE path = ? AND line <= ? ORDER BY line DESC LIMIT 20`,
		filePath, line)
	if err != nil {
		return ""
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var endLine int
		if rows.Scan(&name, &endLine) != nil {
			continue
		}
		if endLine >= line {
			return name
		}
	}
	return ""
}

func scoreHit(c candidateRow, terms []string, opts SearchOptions, repoMeta map[string]RepoMeta, symbolDefPaths map[string]bool) (float64, string) {
	var score float64
	var reasons []string

	base := path.Base(c.Path)
	baseNoExt := strings.TrimSuffix(base, path.Ext(base))
	dir := path.Dir(c.Path)

	queryNorm := opts.Query
	baseCmp, stemCmp, dirCmp := base, baseNoExt, dir
	if !opts.CaseSensitive {
		queryNorm = strings.ToLower(queryNorm)
		baseCmp = strings.ToLower(baseCmp)
		stemCmp = strings.ToLower(stemCmp)
		dirCmp = strings.ToLower(dirCmp)
	}

	if baseCmp == queryNorm || stemCmp == queryNorm {
		score += exactFilenameBoost
		reasons = append(reasons, "Exact filename match")
	} else if strings.Contains(stemCmp, queryNorm) {
		score += filenameStemBoost
		reasons = append(reasons, "Filename match")
	}
	if strings.Contains(dirCmp, queryNorm) {
		score += dirSegmentBoost
		reasons = append(reasons, "Dir match")
	}
	if symbolDefPaths[c.Path] {
		score += symbolDefBoost
		reasons = append(reasons, "Symbol definition")
	}
	if m, ok := repoMeta[c.Repo]; ok {
		for _, tag := range m.Tags {
			tagCmp := tag
			if !opts.CaseSensitive {
				tagCmp = strings.ToLower(tagCmp)
			}
			if strings.Contains(tagCmp, queryNorm) {
				score += tagMatchBoost
				reasons = append(reasons, "Tag match")
				break
			}
		}
		if m.Priority >= highPriorityMin {
			score += float64(m.Priority)
			reasons = append(reasons, "High priority")
		}
	}
	if opts.RecencyBoost {
		age := time.Since(time.Unix(c.MTime, 0)).Hours() / 24
		decay := 1 - age/recencyDecayDays
		if decay > 0 {
			score += decay * recencyBoostCap
		}
	}
	score += float64(c.MatchCount)

	if len(reasons) == 0 {
		reasons = append(reasons, "Content match")
	}
	return score, strings.Join(reasons, ", ")
}

// firstMatchLineIndex returns the 0-based index of the first line in
// content containing any of terms, or 0 if none match.
func firstMatchLineIndex(content string, terms []string, caseSensitive bool) int {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lc := line
		if !caseSensitive {
			lc = strings.ToLower(lc)
		}
		for _, t := range terms {
			if t != "" && strings.Contains(lc, t) {
				return i
			}
		}
	}
	return 0
}

// buildSnippet selects up to snippetLines lines around the first match
// and wraps every term occurrence in >>>…<<< (spec.md §4.2, §8 invariant 6).
func buildSnippet(content string, terms []string, snippetLines int, caseSensitive bool) string {
	lines := strings.Split(content, "\n")
	matchLine := firstMatchLineIndex(content, terms, caseSensitive)

	half := snippetLines / 2
	start := matchLine - half
	if start < 0 {
		start = 0
	}
	end := start + snippetLines
	if end > len(lines) {
		end = len(lines)
		start = end - snippetLines
		if start < 0 {
			start = 0
		}
	}

	snippet := strings.Join(lines[start:end], "\n")
	for _, t := range terms {
		if t == "" {
			continue
		}
		snippet = wrapTerm(snippet, t, caseSensitive)
	}
	return snippet
}

func wrapTerm(s, term string, caseSensitive bool) string {
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if caseSensitive {
		re, err = regexp.Compile(regexp.QuoteMeta(term))
	}
	if err != nil {
		return s
	}
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return ">>>" + m + "<<<"
	})
}

// RepoCandidate is repo_candidates()'s output row (spec.md §4.2).
type RepoCandidate struct {
	Repo   string
	Count  int
	Reason string
}

// RepoCandidates groups matches by repo, sorted by count descending,
// with a threshold-bucketed human-readable reason.
func (s *Store) RepoCandidates(query string, limit int) ([]RepoCandidate, error) {
	if limit <= 0 || limit > 5 {
		limit = 5
	}
	counts := map[string]int{}
	if s.ftsEnabled {
		rows, err := s.q.Query(
			`SELECT f.repo, COUNT(*) FROM files_fts JOIN files f ON f.path = files_fts.path
			 WHERE files_fts MATCH ? GROUP BY f.repo`, buildFTSMatch(query))
		if err == nil {
			for rows.Next() {
				var repo string
				var n int
				if rows.Scan(&repo, &n) == nil {
					counts[repo] = n
				}
			}
			rows.Close()
		}
	}
	if len(counts) == 0 {
		rows, err := s.q.Query(
			`SELECT repo, COUNT(*) FROM files WHERE decompress(content_compressed) LIKE ? GROUP BY repo`,
			"%"+query+"%")
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var repo string
			var n int
			if rows.Scan(&repo, &n) == nil {
				counts[repo] = n
			}
		}
		rows.Close()
	}

	out := make([]RepoCandidate, 0, len(counts))
	for repo, n := range counts {
		out = append(out, RepoCandidate{Repo: repo, Count: n, Reason: candidateReason(n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func candidateReason(count int) string {
	switch {
	case count >= 10:
		return "high"
	case count >= 5:
		return "moderate"
	default:
		return "low"
	}
}
