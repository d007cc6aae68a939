package store

// FailedTask is a DLQ row for a path whose indexing failed; Attempts
// counts the failures recorded for it (spec.md §4.3, §7 class 6).
type FailedTask struct {
	ID            int64
	Path          string
	Reason        string
	Attempts      int
	LastAttemptTS string
}

// RecordFailedTask inserts or bumps the attempt counter for path.
func (s *Store) RecordFailedTask(path, reason string) error {
	var id int64
	var attempts int
	err := s.q.QueryRow(`SELECT id, attempts FROM failed_tasks WHERE path=?`, path).Scan(&id, &attempts)
	if err == nil {
		_, err = s.q.Exec(`UPDATE failed_tasks SET reason=?, attempts=?, last_attempt_ts=? WHERE id=?`,
			reason, attempts+1, Now(), id)
		return err
	}
	_, err = s.q.Exec(`INSERT INTO failed_tasks (path, reason, attempts, last_attempt_ts) VALUES (?,?,?,?)`,
		path, reason, 1, Now())
	return err
}

// ClearFailedTask removes path from the DLQ, e.g. after a later scan
// succeeds.
func (s *Store) ClearFailedTask(path string) error {
	_, err := s.q.Exec(`DELETE FROM failed_tasks WHERE path=?`, path)
	return err
}

// ListFailedTasks returns every DLQ row, most recent first.
func (s *Store) ListFailedTasks() ([]FailedTask, error) {
	rows, err := s.q.Query(`SELECT id, path, reason, attempts, last_attempt_ts FROM failed_tasks ORDER BY last_attempt_ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailedTask
	for rows.Next() {
		var t FailedTask
		if err := rows.Scan(&t.ID, &t.Path, &t.Reason, &t.Attempts, &t.LastAttemptTS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
