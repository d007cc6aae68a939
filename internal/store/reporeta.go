package store

// RepoMeta is the repo_meta-table entity (spec.md §3). Priority is a
// ranking boost consumed by the search engine.
type RepoMeta struct {
	RepoName    string
	Tags        []string
	Domain      string
	Description string
	Priority    int
}

// UpsertRepoMeta inserts or replaces one repo's metadata.
func (s *Store) UpsertRepoMeta(m RepoMeta) error {
	_, err := s.q.Exec(
		`INSERT INTO repo_meta (repo_name, tags, domain, description, priority) VALUES (?,?,?,?,?)
		 ON CONFLICT(repo_name) DO UPDATE SET tags=excluded.tags, domain=excluded.domain,
			description=excluded.description, priority=excluded.priority`,
		m.RepoName, marshalJSON(m.Tags), m.Domain, m.Description, m.Priority,
	)
	return err
}

// GetRepoMeta returns one repo's metadata, or the zero value if absent.
func (s *Store) GetRepoMeta(repoName string) (RepoMeta, bool) {
	var m RepoMeta
	var tagsJSON string
	err := s.q.QueryRow(
		`SELECT repo_name, tags, domain, description, priority FROM repo_meta WHERE repo_name=?`, repoName,
	).Scan(&m.RepoName, &tagsJSON, &m.Domain, &m.Description, &m.Priority)
	if err != nil {
		return RepoMeta{}, false
	}
	unmarshalJSON(tagsJSON, &m.Tags)
	return m, true
}

// AllRepoMeta returns every repo's metadata, keyed by repo name.
func (s *Store) AllRepoMeta() (map[string]RepoMeta, error) {
	rows, err := s.q.Query(`SELECT repo_name, tags, domain, description, priority FROM repo_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]RepoMeta{}
	for rows.Next() {
		var m RepoMeta
		var tagsJSON string
		if err := rows.Scan(&m.RepoName, &tagsJSON, &m.Domain, &m.Description, &m.Priority); err != nil {
			return nil, err
		}
		unmarshalJSON(tagsJSON, &m.Tags)
		out[m.RepoName] = m
	}
	return out, rows.Err()
}
