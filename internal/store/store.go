package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the schema generation this binary writes. Open refuses
// databases written by a newer binary.
const SchemaVersion = 1

// Sentinel errors. Callers classify these with errors.Is; the engine maps
// them onto its public error kinds.
var (
	// ErrContention is returned when a write could not acquire the
	// database within the bounded retry policy.
	ErrContention = errors.New("storage contention")

	// ErrSchemaTooNew is returned when the database schema version
	// exceeds what this binary supports.
	ErrSchemaTooNew = errors.New("database schema is newer than supported")
)

// Profile selects the pragma set applied to the write connection.
type Profile int

const (
	// ProfileSafe is the default: WAL journal, synchronous=NORMAL,
	// 64 MB page cache.
	ProfileSafe Profile = iota
	// ProfileFast trades durability for throughput: synchronous=OFF,
	// 128 MB page cache.
	ProfileFast
)

// Store is the SQLite data layer. A single write connection (db, capped at
// one open conn so scoped pragmas stick) is shared by all writers; reads go
// through a separate pool (rdb) and proceed against the WAL snapshot.
type Store struct {
	db  *sql.DB // write path, max one connection
	rdb *sql.DB // read pool

	// writeMu serializes pragma-scoped batch sections on top of the
	// connection cap, so a profile switch never interleaves with another
	// writer.
	writeMu sync.Mutex

	path    string
	profile Profile
}

// Open opens (or creates) the database at path and applies the requested
// profile. Migrations run idempotently.
func Open(path string, profile Profile) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	rdb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	s := &Store{db: db, rdb: rdb, path: path, profile: profile}
	if err := s.applyProfile(profile); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// memDBSeq distinguishes in-memory databases; a shared-cache name is
// process-global in SQLite.
var memDBSeq atomic.Int64

// OpenInMemory opens a fresh in-memory database, mainly for tests. The
// read pool shares the write connection's cache so readers see writes.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:quarrymem%d?mode=memory&cache=shared&_busy_timeout=5000", memDBSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	rdb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open in-memory read pool: %w", err)
	}
	s := &Store{db: db, rdb: rdb, path: ":memory:", profile: ProfileSafe}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	rerr := s.rdb.Close()
	werr := s.db.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// DB returns the write-path handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ReadDB returns the read pool. Queries issued here run against the WAL
// snapshot and never block the writer.
func (s *Store) ReadDB() *sql.DB {
	return s.rdb
}

// applyProfile sets the standing pragmas on the write connection.
func (s *Store) applyProfile(p Profile) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	if p == ProfileFast {
		stmts = []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = OFF",
			"PRAGMA cache_size = -131072",
			"PRAGMA temp_store = MEMORY",
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply profile: %s: %w", stmt, err)
		}
	}
	return nil
}

// Migrate creates all tables, indexes and triggers. Idempotent. Refuses a
// database whose recorded schema version is newer than this binary.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("migrate: record version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("migrate: read version: %w", err)
	case version > SchemaVersion:
		return fmt.Errorf("migrate: version %d: %w", version, ErrSchemaTooNew)
	}

	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('db_revision', '0')",
	); err != nil {
		return fmt.Errorf("migrate: seed revision: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
  version         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  language        TEXT NOT NULL,
  content_hash    TEXT NOT NULL,
  size            INTEGER NOT NULL,
  mtime_ns        INTEGER NOT NULL,
  symbol_count    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  file_path       TEXT NOT NULL,
  start_offset    INTEGER NOT NULL,
  end_offset      INTEGER NOT NULL,
  start_line      INTEGER NOT NULL,
  start_col       INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  end_col         INTEGER NOT NULL,
  language        TEXT NOT NULL,
  visibility      TEXT,
  signature       TEXT,
  doc_comment     TEXT,
  parent_id       INTEGER,
  scope_id        INTEGER,
  fqn             TEXT,
  type_params     TEXT,
  params          TEXT
);

CREATE TABLE IF NOT EXISTS symbol_references (
  id              INTEGER PRIMARY KEY,
  file_path       TEXT NOT NULL,
  line            INTEGER NOT NULL,
  col             INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  target_symbol_id INTEGER,
  caller_symbol_id INTEGER
);

CREATE TABLE IF NOT EXISTS imports (
  id              INTEGER PRIMARY KEY,
  file_path       TEXT NOT NULL,
  source          TEXT NOT NULL,
  imported_name   TEXT,
  kind            TEXT NOT NULL DEFAULT 'module'
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  file_path       TEXT NOT NULL,
  parent_id       INTEGER,
  kind            TEXT NOT NULL,
  name            TEXT,
  start_offset    INTEGER NOT NULL,
  end_offset      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS call_edges (
  id              INTEGER PRIMARY KEY,
  caller_id       INTEGER NOT NULL,
  callee_name     TEXT NOT NULL,
  callee_id       INTEGER,
  confidence      TEXT NOT NULL,
  reason          TEXT,
  file_path       TEXT NOT NULL,
  line            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_meta (
  path            TEXT PRIMARY KEY,
  doc1            TEXT,
  purpose         TEXT,
  capabilities    TEXT,
  invariants      TEXT,
  security_notes  TEXT,
  owner           TEXT,
  stability       TEXT,
  exported_hash   TEXT,
  provenance      TEXT NOT NULL,
  confidence      REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS file_tags (
  path            TEXT NOT NULL,
  tag             TEXT NOT NULL,
  confidence      REAL NOT NULL DEFAULT 1.0,
  PRIMARY KEY (path, tag)
);

CREATE TABLE IF NOT EXISTS tag_rules (
  pattern         TEXT PRIMARY KEY,
  tags            TEXT NOT NULL,
  confidence      REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS tag_dictionary (
  name            TEXT PRIMARY KEY,
  category        TEXT NOT NULL,
  synonyms        TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
  name, signature, doc_comment,
  content=symbols,
  content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS symbols_ai AFTER INSERT ON symbols BEGIN
  INSERT INTO symbols_fts(rowid, name, signature, doc_comment)
  VALUES (NEW.id, NEW.name, NEW.signature, NEW.doc_comment);
END;

CREATE TRIGGER IF NOT EXISTS symbols_ad AFTER DELETE ON symbols BEGIN
  INSERT INTO symbols_fts(symbols_fts, rowid, name, signature, doc_comment)
  VALUES ('delete', OLD.id, OLD.name, OLD.signature, OLD.doc_comment);
END;

CREATE TRIGGER IF NOT EXISTS symbols_au AFTER UPDATE ON symbols BEGIN
  INSERT INTO symbols_fts(symbols_fts, rowid, name, signature, doc_comment)
  VALUES ('delete', OLD.id, OLD.name, OLD.signature, OLD.doc_comment);
  INSERT INTO symbols_fts(rowid, name, signature, doc_comment)
  VALUES (NEW.id, NEW.name, NEW.signature, NEW.doc_comment);
END;

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_symbols_kind_name ON symbols(kind, name);
CREATE INDEX IF NOT EXISTS idx_references_name ON symbol_references(name);
CREATE INDEX IF NOT EXISTS idx_references_file ON symbol_references(file_path);
CREATE INDEX IF NOT EXISTS idx_references_target ON symbol_references(target_symbol_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(caller_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(callee_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_name ON call_edges(callee_name);
CREATE INDEX IF NOT EXISTS idx_imports_file ON imports(file_path);
CREATE INDEX IF NOT EXISTS idx_imports_source ON imports(source);
CREATE INDEX IF NOT EXISTS idx_scopes_file ON scopes(file_path);
CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag);
`

// Busy-retry policy for write calls.
const (
	retryAttempts    = 5
	retryBaseBackoff = 10 * time.Millisecond
)

// withRetry runs fn, retrying on SQLITE_BUSY / SQLITE_LOCKED with
// exponential backoff. Retry exhaustion wraps ErrContention so callers can
// surface a contention error without inspecting driver codes.
func withRetry(fn func() error) error {
	backoff := retryBaseBackoff
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrContention, err)
}

// isBusy reports whether err is a transient lock error.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
