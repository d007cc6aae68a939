package store

import (
	"fmt"
)

// File is the files-table entity (spec.md §3). Content is plain UTF-8
// text; callers never see the zlib-compressed form.
type File struct {
	Path     string
	Repo     string
	MTime    int64
	Size     int64
	Content  string
	LastSeen int64
}

// UpsertFiles atomically inserts or updates each row, guarded by the
// monotonicity invariant: an incoming row only overwrites a stored row
// when incoming.MTime >= stored.MTime (spec.md §3, invariant 1 in §8).
// Symbol rows for touched paths are cleared here so they can be
// repopulated by a following UpsertSymbols call in the same transaction
// (spec.md §4.1 public contract).
func (s *Store) UpsertFiles(rows []File) error {
	for _, f := range rows {
		compressed, err := compressText(f.Content)
		if err != nil {
			return fmt.Errorf("compress %s: %w", f.Path, err)
		}

		var storedMTime int64
		err = s.q.QueryRow(`SELECT mtime FROM files WHERE path = ?`, f.Path).Scan(&storedMTime)
		exists := err == nil
		if exists && f.MTime < storedMTime {
			continue // monotonicity: stale write ignored
		}

		if exists {
			_, err = s.q.Exec(
				`UPDATE files SET repo=?, mtime=?, size=?, content_compressed=?, last_seen=? WHERE path=?`,
				f.Repo, f.MTime, f.Size, compressed, f.LastSeen, f.Path,
			)
		} else {
			_, err = s.q.Exec(
				`INSERT INTO files (path, repo, mtime, size, content_compressed, last_seen) VALUES (?,?,?,?,?,?)`,
				f.Path, f.Repo, f.MTime, f.Size, compressed, f.LastSeen,
			)
		}
		if err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}

		if _, err := s.q.Exec(`DELETE FROM symbols WHERE path=?`, f.Path); err != nil {
			return fmt.Errorf("clear symbols for %s: %w", f.Path, err)
		}
		if _, err := s.q.Exec(`DELETE FROM symbol_relations WHERE from_path=?`, f.Path); err != nil {
			return fmt.Errorf("clear relations for %s: %w", f.Path, err)
		}
	}
	return nil
}

// UpdateLastSeen stamps last_seen=ts on every given path, used for paths
// the scan observed unchanged (spec.md §4.3 step 5).
func (s *Store) UpdateLastSeen(paths []string, ts int64) error {
	for _, p := range paths {
		if _, err := s.q.Exec(`UPDATE files SET last_seen=? WHERE path=?`, ts, p); err != nil {
			return fmt.Errorf("update last_seen %s: %w", p, err)
		}
	}
	return nil
}

// DeleteUnseenFiles removes every file whose last_seen predates tsLimit
// — the deletion-detection pass run after a full scan completes
// (spec.md §3 File invariant, §8 invariant 4). Returns the deleted paths
// so callers can also prune any caches keyed on them.
func (s *Store) DeleteUnseenFiles(tsLimit int64) ([]string, error) {
	rows, err := s.q.Query(`SELECT path FROM files WHERE last_seen < ?`, tsLimit)
	if err != nil {
		return nil, fmt.Errorf("select unseen: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()

	for _, p := range paths {
		if _, err := s.q.Exec(`DELETE FROM files WHERE path=?`, p); err != nil {
			return nil, fmt.Errorf("delete file %s: %w", p, err)
		}
		// symbols/symbol_relations for this path are pruned via ON DELETE
		// CASCADE on symbols; symbol_relations has no FK (from_path is a
		// denormalized string), so prune explicitly.
		if _, err := s.q.Exec(`DELETE FROM symbol_relations WHERE from_path=?`, p); err != nil {
			return nil, fmt.Errorf("delete relations %s: %w", p, err)
		}
	}
	return paths, nil
}

// GetFile returns one file's plain-text content, or false if not found.
func (s *Store) GetFile(path string) (File, bool, error) {
	var f File
	var compressed []byte
	err := s.q.QueryRow(
		`SELECT path, repo, mtime, size, content_compressed, last_seen FROM files WHERE path=?`, path,
	).Scan(&f.Path, &f.Repo, &f.MTime, &f.Size, &compressed, &f.LastSeen)
	if err != nil {
		return File{}, false, nil
	}
	text, err := decompressBytes(compressed)
	if err != nil {
		return File{}, false, fmt.Errorf("decompress %s: %w", path, err)
	}
	f.Content = text
	return f, true, nil
}

// StatRow is the (mtime, size) pair UpsertFiles' caller compares against
// a freshly-stat'd filesystem entry to decide whether a re-read is needed
// (spec.md §4.3 step 2).
type StatRow struct {
	MTime int64
	Size  int64
}

// StatFile returns the stored (mtime, size) for path without
// decompressing content — the cheap skip-check path.
func (s *Store) StatFile(path string) (StatRow, bool) {
	var st StatRow
	err := s.q.QueryRow(`SELECT mtime, size FROM files WHERE path=?`, path).Scan(&st.MTime, &st.Size)
	if err != nil {
		return StatRow{}, false
	}
	return st, true
}

// ListFilesOptions filters the list_files tool (spec.md §4.10).
type ListFilesOptions struct {
	Repo          string
	PathPattern   string // SQL LIKE pattern, already glob-translated by the caller
	FileTypes     []string
	IncludeHidden bool
	Limit         int
	Offset        int
}

// ListFiles returns file rows (without content) matching the filter.
func (s *Store) ListFiles(opts ListFilesOptions) ([]File, error) {
	query := `SELECT path, repo, mtime, size, last_seen FROM files WHERE 1=1`
	var args []any

	if opts.Repo != "" {
		query += ` AND repo = ?`
		args = append(args, opts.Repo)
	}
	if opts.PathPattern != "" {
		query += ` AND path LIKE ?`
		args = append(args, opts.PathPattern)
	}
	if len(opts.FileTypes) > 0 {
		query += ` AND (`
		for i, ft := range opts.FileTypes {
			if i > 0 {
				query += ` OR `
			}
			query += `path LIKE ?`
			args = append(args, "%"+ft)
		}
		query += `)`
	}
	if !opts.IncludeHidden {
		query += ` AND path NOT LIKE '.%' AND path NOT LIKE '%/.%'`
	}
	query += ` ORDER BY path ASC LIMIT ? OFFSET ?`
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Repo, &f.MTime, &f.Size, &f.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RepoSummary is a per-repo file count, returned by list_files when no
// filter narrows the result (spec.md §4.10).
type RepoSummary struct {
	Repo      string
	FileCount int
}

// RepoFileSummary groups files by repo.
func (s *Store) RepoFileSummary() ([]RepoSummary, error) {
	rows, err := s.q.Query(`SELECT repo, COUNT(*) FROM files GROUP BY repo ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RepoSummary
	for rows.Next() {
		var r RepoSummary
		if err := rows.Scan(&r.Repo, &r.FileCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
