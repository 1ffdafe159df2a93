package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// Store is the SQLite-backed persistence layer. It is safe for
// concurrent use: a read/write mutex and a single database connection
// serialize access, so readers wait while a write is in progress.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory store for testing. WAL mode and a busy timeout are applied
// so concurrent workers degrade to waiting instead of erroring.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, fmt.Errorf("store corrupted at %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection runs every statement, which prevents SQLite lock
	// contention; WAL mode is enabled, but reads share that connection
	// and do not run alongside a write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// validateIntegrity checks an existing database before opening it.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id                TEXT PRIMARY KEY,
		workspace_id      TEXT NOT NULL,
		artifact_entry_id TEXT,
		source_type       TEXT NOT NULL,
		source_name       TEXT NOT NULL,
		source_path       TEXT,
		content_hash      TEXT NOT NULL,
		indexed_at        TEXT,
		file_size         INTEGER,
		embedding_status  TEXT NOT NULL DEFAULT 'disabled',
		embedding_model   TEXT,
		embedding_error   TEXT,
		stale_at          TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_workspace
		ON documents(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_documents_artifact
		ON documents(workspace_id, artifact_entry_id);
	CREATE INDEX IF NOT EXISTS idx_documents_stale
		ON documents(stale_at) WHERE stale_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index   INTEGER NOT NULL,
		section_title TEXT,
		content       TEXT NOT NULL,
		token_count   INTEGER,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document
		ON chunks(document_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		content,
		section_title,
		source_name,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id   TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		model      TEXT NOT NULL,
		dims       INTEGER NOT NULL,
		blob       BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_sessions (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		session_id  TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		PRIMARY KEY (document_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_document_sessions_session
		ON document_sessions(session_id);

	CREATE TABLE IF NOT EXISTS registry (
		source_path      TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		status           TEXT NOT NULL,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		last_seen_at     TEXT,
		last_indexed_at  TEXT,
		error_message    TEXT,
		embedding_model  TEXT,
		embedding_status TEXT,
		embedding_error  TEXT,
		PRIMARY KEY (source_path, content_hash)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// now returns the current wall-clock time in UTC.
func now() time.Time {
	return time.Now().UTC()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		slog.Warn("store_bad_timestamp", slog.String("value", v.String))
		return time.Time{}
	}
	return t
}

// nullable maps an empty string to NULL so optional columns stay NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt maps zero to NULL.
func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// tx runs fn inside a transaction, rolling back on error.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
