package store

import "fmt"

// RelationKind enumerates SymbolRelation.rel_type (spec.md §3).
type RelationKind string

const (
	RelCalls      RelationKind = "calls"
	RelImplements RelationKind = "implements"
	RelExtends    RelationKind = "extends"
)

// Relation is the symbol_relations-table entity.
type Relation struct {
	FromPath     string
	FromSymbol   string
	FromSymbolID string
	ToPath       string
	ToSymbol     string
	ToSymbolID   string
	RelType      RelationKind
	Line         int
}

// UpsertRelations rewrites the full relation set for each distinct
// from_path in rows — relations for a path were already cleared by
// UpsertFiles in the same transaction (spec.md §4.1 public contract).
func (s *Store) UpsertRelations(rows []Relation) error {
	for _, r := range rows {
		_, err := s.q.Exec(
			`INSERT INTO symbol_relations (from_path, from_symbol, from_symbol_id, to_path, to_symbol, to_symbol_id, rel_type, line)
			 VALUES (?,?,?,?,?,?,?,?)`,
			r.FromPath, r.FromSymbol, r.FromSymbolID, r.ToPath, r.ToSymbol, r.ToSymbolID, string(r.RelType), r.Line,
		)
		if err != nil {
			return fmt.Errorf("upsert relation %s->%s: %w", r.FromSymbol, r.ToSymbol, err)
		}
	}
	return nil
}

// GetCallers returns every relation whose to_symbol matches name and
// whose rel_type is "calls" (spec.md §4.10 get_callers).
func (s *Store) GetCallers(name string) ([]Relation, error) {
	return s.queryRelations(`SELECT from_path, from_symbol, from_symbol_id, to_path, to_symbol, to_symbol_id, rel_type, line
		FROM symbol_relations WHERE to_symbol=? AND rel_type=?`, name, string(RelCalls))
}

// GetImplementations returns every relation whose to_symbol matches
// name and whose rel_type is "implements" or "extends" (spec.md §4.10
// get_implementations).
func (s *Store) GetImplementations(name string) ([]Relation, error) {
	return s.queryRelations(`SELECT from_path, from_symbol, from_symbol_id, to_path, to_symbol, to_symbol_id, rel_type, line
		FROM symbol_relations WHERE to_symbol=? AND rel_type IN (?,?)`, name, string(RelImplements), string(RelExtends))
}

func (s *Store) queryRelations(query string, args ...any) ([]Relation, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		var r Relation
		var relType string
		if err := rows.Scan(&r.FromPath, &r.FromSymbol, &r.FromSymbolID, &r.ToPath, &r.ToSymbol, &r.ToSymbolID, &relType, &r.Line); err != nil {
			return nil, err
		}
		r.RelType = RelationKind(relType)
		out = append(out, r)
	}
	return out, rows.Err()
}
