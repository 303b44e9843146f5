// ABOUTME: SQLite implementation of the Journal interface using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on first use

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is used for every stored timestamp. Fixed-width nanoseconds
// keep lexical and chronological order the same.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Journal interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode so readers (qapictl history) don't block the recorder
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS qmp_events (
			event_id    TEXT PRIMARY KEY,
			endpoint    TEXT NOT NULL,
			name        TEXT NOT NULL,
			data        TEXT,
			timestamp   TEXT NOT NULL,
			received_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_qmp_events_endpoint_received
			ON qmp_events(endpoint, received_at);
		CREATE INDEX IF NOT EXISTS idx_qmp_events_name
			ON qmp_events(name);

		CREATE TABLE IF NOT EXISTS commands (
			command_id  TEXT PRIMARY KEY,
			endpoint    TEXT NOT NULL,
			command     TEXT NOT NULL,
			arguments   TEXT,
			oob         INTEGER NOT NULL DEFAULT 0,
			outcome     TEXT NOT NULL,
			return_value TEXT,
			error_class TEXT,
			error_desc  TEXT,
			started_at  TEXT NOT NULL,
			duration_us INTEGER NOT NULL,

			CHECK (outcome IN ('ok', 'error', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_commands_endpoint_started
			ON commands(endpoint, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func jsonFromNull(ns sql.NullString) []byte {
	if !ns.Valid {
		return nil
	}
	return []byte(ns.String)
}

var _ Journal = (*SQLiteStore)(nil)
