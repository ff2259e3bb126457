package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// metaNotebookID is the notebook_meta key holding the bound notebook.
const metaNotebookID = "notebook_id"

// ErrNotebookMismatch is returned when a log file belongs to another notebook.
var ErrNotebookMismatch = errors.New("event log belongs to a different notebook")

// Store is the durable event log for one notebook.
type Store struct {
	db *sql.DB
}

// Open opens the event log at path, creating it if needed, and brings its
// schema up to date. ":memory:" gives a private log that lives as long as
// the Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []struct {
		what string
		fn   func(*sql.DB) error
	}{
		{"connect", func(db *sql.DB) error { return db.Ping() }},
		{"configure", configure},
		{"create schema", createSchema},
		{"migrate", migrate},
	} {
		if err := step.fn(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("open event log %s: %s: %w", path, step.what, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the log is still readable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BindNotebook records notebookID as the owner of this log, or verifies it
// when the log is already bound. An empty notebookID only reads the binding.
func (s *Store) BindNotebook(ctx context.Context, notebookID string) (string, error) {
	var bound string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM notebook_meta WHERE key = ?`, metaNotebookID,
	).Scan(&bound)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if notebookID == "" {
			return "", nil
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO notebook_meta (key, value) VALUES (?, ?)`, metaNotebookID, notebookID,
		); err != nil {
			return "", fmt.Errorf("bind notebook: %w", err)
		}
		return notebookID, nil
	case err != nil:
		return "", fmt.Errorf("bind notebook: %w", err)
	}

	if notebookID != "" && notebookID != bound {
		return bound, fmt.Errorf("%w: log is bound to %q, not %q", ErrNotebookMismatch, bound, notebookID)
	}
	return bound, nil
}

// pragmas are applied on every open. expect is what PRAGMA <name> reads
// back afterwards.
var pragmas = []struct {
	name, value, expect string
}{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

func configure(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

// migrations upgrade logs written by older builds. Entry i moves
// user_version from i to i+1; append only.
var migrations = []string{
	// per-event-name scans for CountByName
	`CREATE INDEX IF NOT EXISTS idx_events_name_seq ON events(name, seq)`,
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("to v%d: %w", v+1, err)
		}
	}
	return nil
}

// pragma reads one pragma's current value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
