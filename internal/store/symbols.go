package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Symbol is the symbols-table entity (spec.md §3).
type Symbol struct {
	ID           int64
	Path         string
	Name         string
	Kind         string
	Line         int
	EndLine      int
	Content      string
	ParentName   string
	Metadata     map[string]any
	Docstring    string
	Qualname     string
	SymbolID     string
}

// ComputeSymbolID derives the stable content-addressed identifier
// spec.md §3 requires: hash(path, qualname, kind). A truncated SHA-256
// hex digest serves this; nothing downstream needs a non-cryptographic
// hash fast enough to justify an extra dependency (see DESIGN.md).
func ComputeSymbolID(path, qualname, kind string) string {
	h := sha256.Sum256([]byte(path + "\x00" + qualname + "\x00" + kind))
	return hex.EncodeToString(h[:])[:24]
}

// UpsertSymbols rewrites the full symbol set for each distinct path in
// rows. Symbol rows for a path were already cleared by UpsertFiles in
// the same transaction; this call is purely additive (spec.md §3,
// invariant 2 in §8: the surviving rows for a path equal exactly what
// the most recent UpsertSymbols call wrote for it).
func (s *Store) UpsertSymbols(rows []Symbol) error {
	for _, sym := range rows {
		if sym.SymbolID == "" {
			sym.SymbolID = ComputeSymbolID(sym.Path, sym.Qualname, sym.Kind)
		}
		_, err := s.q.Exec(
			`INSERT INTO symbols (path, name, kind, line, end_line, content, parent_name, metadata_json, docstring, qualname, symbol_id)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(symbol_id) DO UPDATE SET
				path=excluded.path, name=excluded.name, kind=excluded.kind, line=excluded.line,
				end_line=excluded.end_line, content=excluded.content, parent_name=excluded.parent_name,
				metadata_json=excluded.metadata_json, docstring=excluded.docstring, qualname=excluded.qualname`,
			sym.Path, sym.Name, sym.Kind, sym.Line, sym.EndLine, sym.Content, sym.ParentName,
			marshalJSON(sym.Metadata), sym.Docstring, sym.Qualname, sym.SymbolID,
		)
		if err != nil {
			return fmt.Errorf("upsert symbol %s/%s: %w", sym.Path, sym.Name, err)
		}
	}
	return nil
}

// SymbolsForPath returns every symbol defined in path, ordered by line.
func (s *Store) SymbolsForPath(path string) ([]Symbol, error) {
	rows, err := s.q.Query(
		`SELECT id, path, name, kind, line, end_line, content, parent_name, metadata_json, docstring, qualname, symbol_id
		 FROM symbols WHERE path=? ORDER BY line ASC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// SearchSymbols name-matches (prefix or substring) ranked by
// length(name) ascending then path ascending (spec.md §4.10).
func (s *Store) SearchSymbols(query string, limit int) ([]Symbol, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	rows, err := s.q.Query(
		`SELECT id, path, name, kind, line, end_line, content, parent_name, metadata_json, docstring, qualname, symbol_id
		 FROM symbols WHERE name LIKE ? ORDER BY length(name) ASC, path ASC LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// GetSymbolBlock returns the named symbol's block in path, falling back
// to start_line+10 when end_line<=0 (spec.md §4.1 public contract).
func (s *Store) GetSymbolBlock(path, name string) (Symbol, bool, error) {
	var sym Symbol
	var metaJSON string
	err := s.q.QueryRow(
		`SELECT id, path, name, kind, line, end_line, content, parent_name, metadata_json, docstring, qualname, symbol_id
		 FROM symbols WHERE path=? AND name=? LIMIT 1`, path, name,
	).Scan(&sym.ID, &sym.Path, &sym.Name, &sym.Kind, &sym.Line, &sym.EndLine, &sym.Content,
		&sym.ParentName, &metaJSON, &sym.Docstring, &sym.Qualname, &sym.SymbolID)
	if err != nil {
		return Symbol{}, false, nil
	}
	unmarshalJSON(metaJSON, &sym.Metadata)
	if sym.EndLine <= 0 {
		sym.EndLine = sym.Line + 10
	}
	return sym, true, nil
}

func scanSymbols(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Symbol, error) {
	var out []Symbol
	for rows.Next() {
		var sym Symbol
		var metaJSON string
		if err := rows.Scan(&sym.ID, &sym.Path, &sym.Name, &sym.Kind, &sym.Line, &sym.EndLine,
			&sym.Content, &sym.ParentName, &metaJSON, &sym.Docstring, &sym.Qualname, &sym.SymbolID); err != nil {
			return nil, err
		}
		unmarshalJSON(metaJSON, &sym.Metadata)
		out = append(out, sym)
	}
	return out, rows.Err()
}
