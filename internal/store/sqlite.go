// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides document/task/budget persistence with automatic schema creation.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the one that happens to run an Exec. _txlock=immediate makes every
	// transaction take the write lock up front; combined with the busy
	// timeout, concurrent admissions queue behind each other instead of
	// failing with SQLITE_BUSY on the read-to-write upgrade.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_tenant
			ON documents(tenant_id);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			input TEXT,
			state TEXT NOT NULL,
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			estimated_cost REAL NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_agent_id
			ON tasks(agent_id);

		CREATE INDEX IF NOT EXISTS idx_tasks_state
			ON tasks(state);

		CREATE TABLE IF NOT EXISTS budgets (
			user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			monthly_budget REAL NOT NULL,
			spent REAL NOT NULL DEFAULT 0,
			reserved REAL NOT NULL DEFAULT 0
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
