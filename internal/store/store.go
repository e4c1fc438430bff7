package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/williammartin/gezellig/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - events table
const currentSchemaVersion = 1

// SQLite is a Backend storing one row per event.
// Several processes may open the same file; the id primary key arbitrates
// concurrent appends.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite log at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention between processes
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadAll returns every event ordered by id ascending.
// Rows whose record cannot be decoded, or whose decoded id disagrees with the
// row id, are returned as corrupt.
func (s *SQLite) ReadAll(ctx context.Context) (Records, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record
		FROM events
		ORDER BY id ASC
	`)
	if err != nil {
		return Records{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	recs := Records{Events: []event.Event{}}
	line := 0
	for rows.Next() {
		line++
		var (
			id     int64
			record string
		)
		if err := rows.Scan(&id, &record); err != nil {
			return Records{}, fmt.Errorf("scan event: %w", err)
		}

		e, err := event.ParseLine([]byte(record), line)
		if err != nil {
			recs.Corrupt = append(recs.Corrupt, err.(*event.CorruptRecordError))
			continue
		}
		if e.ID != id {
			recs.Corrupt = append(recs.Corrupt, &event.CorruptRecordError{
				Line: line,
				Raw:  record,
				Err:  fmt.Errorf("record id %d stored at row %d", e.ID, id),
			})
			continue
		}
		recs.Events = append(recs.Events, e)
	}

	if err := rows.Err(); err != nil {
		return Records{}, fmt.Errorf("iterate events: %w", err)
	}

	return recs, nil
}

// TryAppend reads the tail id and inserts partial at tail+1.
// Returns ErrConflict if another writer inserted that id in between.
func (s *SQLite) TryAppend(ctx context.Context, partial event.Event) (event.Event, error) {
	var tail int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&tail); err != nil {
		return event.Event{}, fmt.Errorf("read tail: %w", err)
	}

	e := partial.WithID(tail + 1)
	record, err := event.MarshalLine(e)
	if err != nil {
		return event.Event{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, record)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, string(e.Type), string(record))
	if err != nil {
		return event.Event{}, fmt.Errorf("insert event %d: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return event.Event{}, fmt.Errorf("insert event %d: %w", e.ID, err)
	}
	if n == 0 {
		return event.Event{}, fmt.Errorf("insert event %d: %w", e.ID, ErrConflict)
	}

	return e, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the version.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
