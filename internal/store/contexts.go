package store

// ContextCounters is the per-workspace search-first telemetry persisted
// in the contexts table — the resolution of the Open Question around
// this table's purpose (see DESIGN.md). It lets the doctor tool report
// search-first-usage counters across daemon restarts, complementing the
// in-session counters the MCP layer keeps in memory (spec.md §4.9).
type ContextCounters struct {
	WorkspaceRoot          string
	SearchCount            int64
	SearchSymbolsCount     int64
	ReadWithoutSearchCount int64
	UpdatedAt              string
}

// BumpContextCounter increments one named counter for a workspace root,
// creating the row on first use.
func (s *Store) BumpContextCounter(workspaceRoot, counter string, delta int64) error {
	var column string
	switch counter {
	case "search":
		column = "search_count"
	case "search_symbols":
		column = "search_symbols_count"
	case "read_without_search":
		column = "read_without_search_count"
	default:
		return nil
	}
	_, err := s.q.Exec(
		`INSERT INTO contexts (workspace_root, `+column+`, updated_at) VALUES (?,?,?)
		 ON CONFLICT(workspace_root) DO UPDATE SET `+column+` = `+column+` + excluded.`+column+`, updated_at=excluded.updated_at`,
		workspaceRoot, delta, Now(),
	)
	return err
}

// GetContextCounters returns the persisted counters for a workspace root.
func (s *Store) GetContextCounters(workspaceRoot string) (ContextCounters, bool) {
	var c ContextCounters
	err := s.q.QueryRow(
		`SELECT workspace_root, search_count, search_symbols_count, read_without_search_count, updated_at
		 FROM contexts WHERE workspace_root=?`, workspaceRoot,
	).Scan(&c.WorkspaceRoot, &c.SearchCount, &c.SearchSymbolsCount, &c.ReadWithoutSearchCount, &c.UpdatedAt)
	if err != nil {
		return ContextCounters{}, false
	}
	return c, true
}
