package store

import "os"

// IndexStatus is get_index_status()'s return shape (spec.md §4.1).
type IndexStatus struct {
	TotalFiles  int64
	LastScanTS  int64
	DBSizeBytes int64
}

// GetIndexStatus reports the current index size and the most recent
// scan's timestamp (the max last_seen across all files, as a proxy for
// "last full scan completed").
func (s *Store) GetIndexStatus() (IndexStatus, error) {
	var st IndexStatus
	if err := s.q.QueryRow(`SELECT COUNT(*), COALESCE(MAX(last_seen), 0) FROM files`).Scan(&st.TotalFiles, &st.LastScanTS); err != nil {
		return IndexStatus{}, err
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}
	return st, nil
}
