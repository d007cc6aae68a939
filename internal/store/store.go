// Package store is the embedded storage layer (spec.md §4.1): a single
// SQLite file holding files, symbols, symbol_relations, repo_meta,
// contexts and failed_tasks, with an FTS5 mirror of file content kept
// consistent by triggers over a decompressing view.
package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/sari-dev/sari/internal/config"
)

func init() {
	// decompress is the scalar SQL function the FTS mirror view and the
	// content-reading paths share, so every consumer of file content sees
	// plain UTF-8 text regardless of the zlib compression on disk (spec.md §4.1).
	sqlite.MustRegisterDeterministicScalarFunction("decompress", 1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			data, ok := args[0].([]byte)
			if !ok || data == nil {
				return "", nil
			}
			text, err := decompressBytes(data)
			if err != nil {
				return "", nil //nolint: corrupted content degrades to empty, never fails the query
			}
			return text, nil
		})
}

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps the writer/reader SQLite connections for one workspace's
// index database. Every query outside a transaction runs on the writer
// connection; the reader connection is opened but no query runs on it,
// and readerMu is never taken. WithTransaction holds writerMu.
type Store struct {
	writer   *sql.DB
	reader   *sql.DB
	writerMu sync.Mutex
	readerMu sync.Mutex
	q        Querier // active querier when wrapped in a transaction
	dbPath   string

	ftsEnabled bool
}

// cacheDir returns the default cache directory for workspace databases.
func cacheDir() (string, error) {
	dir := config.CacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir cache: %w", err)
	}
	return dir, nil
}

// Open opens or creates the index database for the named workspace,
// keyed by a stable slug (e.g. a hash of the workspace root).
func Open(workspaceSlug string) (*Store, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, workspaceSlug+".db")
	return OpenPath(dbPath)
}

const dsnOpts = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(15000)&_pragma=foreign_keys(ON)"

// OpenPath opens a database at the given path with a dedicated writer
// and reader connection.
func OpenPath(dbPath string) (*Store, error) {
	writer, err := sql.Open("sqlite", dbPath+dsnOpts)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dbPath+dsnOpts)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(1)

	s := &Store{writer: writer, reader: reader, dbPath: dbPath}
	s.q = s.writer
	if err := s.initSchema(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory database (for testing). The writer and
// reader share the same in-process connection because SQLite's
// ":memory:" DSN is per-connection.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{writer: db, reader: db, dbPath: ":memory:"}
	s.q = s.writer
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction executes fn within a single write transaction. The
// callback receives a transaction-scoped Store; all store methods called
// on txStore use the transaction.
func (s *Store) WithTransaction(fn func(txStore *Store) error) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{writer: s.writer, reader: s.reader, dbPath: s.dbPath, q: tx, ftsEnabled: s.ftsEnabled}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes both connections.
func (s *Store) Close() error {
	err1 := s.writer.Close()
	var err2 error
	if s.reader != s.writer {
		err2 = s.reader.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Path returns the on-disk database path ("<path>" is the key consumed
// by the workspace registry and the status/doctor tools).
func (s *Store) Path() string {
	return s.dbPath
}

// FTSEnabled reports whether the FTS5 virtual table was created
// successfully (spec.md §4.1 failure semantics: readers degrade to LIKE).
func (s *Store) FTSEnabled() bool {
	return s.ftsEnabled
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
	path               TEXT PRIMARY KEY,
	repo               TEXT NOT NULL DEFAULT '',
	mtime              INTEGER NOT NULL DEFAULT 0,
	size               INTEGER NOT NULL DEFAULT 0,
	content_compressed BLOB,
	last_seen          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repo);
CREATE INDEX IF NOT EXISTS idx_files_last_seen ON files(last_seen);

CREATE TABLE IF NOT EXISTS symbols (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	path          TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	line          INTEGER NOT NULL DEFAULT 0,
	end_line      INTEGER NOT NULL DEFAULT 0,
	content       TEXT NOT NULL DEFAULT '',
	parent_name   TEXT NOT NULL DEFAULT '',
	metadata_json TEXT NOT NULL DEFAULT '{}',
	docstring     TEXT NOT NULL DEFAULT '',
	qualname      TEXT NOT NULL DEFAULT '',
	symbol_id     TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS symbol_relations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	from_path     TEXT NOT NULL,
	from_symbol   TEXT NOT NULL DEFAULT '',
	from_symbol_id TEXT NOT NULL DEFAULT '',
	to_path       TEXT NOT NULL DEFAULT '',
	to_symbol     TEXT NOT NULL,
	to_symbol_id  TEXT NOT NULL DEFAULT '',
	rel_type      TEXT NOT NULL,
	line          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_relations_from_path ON symbol_relations(from_path);
CREATE INDEX IF NOT EXISTS idx_relations_to_symbol ON symbol_relations(to_symbol, rel_type);

CREATE TABLE IF NOT EXISTS repo_meta (
	repo_name   TEXT PRIMARY KEY,
	tags        TEXT NOT NULL DEFAULT '[]',
	domain      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS contexts (
	workspace_root             TEXT PRIMARY KEY,
	search_count               INTEGER NOT NULL DEFAULT 0,
	search_symbols_count       INTEGER NOT NULL DEFAULT 0,
	read_without_search_count  INTEGER NOT NULL DEFAULT 0,
	updated_at                 TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS failed_tasks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	path          TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_attempt_ts TEXT NOT NULL DEFAULT ''
);
`

// autoMigrateColumns lists columns that must exist on tables created by
// an older schema version, matching the teacher's pragma_table_xinfo
// idempotent-migration pattern.
var autoMigrateColumns = []struct {
	table, column, ddl string
}{
	{"files", "last_seen", "ALTER TABLE files ADD COLUMN last_seen INTEGER NOT NULL DEFAULT 0"},
	{"symbols", "end_line", "ALTER TABLE symbols ADD COLUMN end_line INTEGER NOT NULL DEFAULT 0"},
	{"symbols", "parent_name", "ALTER TABLE symbols ADD COLUMN parent_name TEXT NOT NULL DEFAULT ''"},
	{"symbols", "metadata_json", "ALTER TABLE symbols ADD COLUMN metadata_json TEXT NOT NULL DEFAULT '{}'"},
	{"symbols", "docstring", "ALTER TABLE symbols ADD COLUMN docstring TEXT NOT NULL DEFAULT ''"},
	{"symbols", "qualname", "ALTER TABLE symbols ADD COLUMN qualname TEXT NOT NULL DEFAULT ''"},
}

func (s *Store) initSchema() error {
	if _, err := s.writer.Exec(schemaDDL); err != nil {
		return err
	}

	for _, m := range autoMigrateColumns {
		var n int
		_ = s.writer.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_xinfo(?) WHERE name=?`, m.table, m.column,
		).Scan(&n)
		if n == 0 {
			if _, err := s.writer.Exec(m.ddl); err != nil {
				slog.Warn("schema.migrate.skip", "table", m.table, "column", m.column, "err", err)
			}
		}
	}

	s.initFTS()
	return nil
}

// initFTS creates the FTS5 virtual table mirroring file content through
// the decompress() function, plus the triggers that keep it consistent
// on insert/update/delete. If FTS5 is unavailable, ftsEnabled stays
// false and the search engine falls back to LIKE for every query
// (spec.md §4.1 failure semantics).
func (s *Store) initFTS() {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(path UNINDEXED, content, tokenize='unicode61')`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_ai AFTER INSERT ON files BEGIN
			INSERT INTO files_fts(path, content) VALUES (new.path, decompress(new.content_compressed));
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_ad AFTER DELETE ON files BEGIN
			DELETE FROM files_fts WHERE path = old.path;
		END`,
		`CREATE TRIGGER IF NOT EXISTS files_fts_au AFTER UPDATE ON files BEGIN
			DELETE FROM files_fts WHERE path = old.path;
			INSERT INTO files_fts(path, content) VALUES (new.path, decompress(new.content_compressed));
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.writer.Exec(stmt); err != nil {
			slog.Warn("schema.fts.unavailable", "err", err)
			s.ftsEnabled = false
			return
		}
	}
	s.ftsEnabled = true
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON(data string, out any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), out)
}

// Now returns the current time in RFC3339 (UTC), matching the teacher's
// Now() helper.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
