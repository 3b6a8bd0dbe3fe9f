// Package library keeps a SQLite catalog of the recording files in a watched
// directory, so listings and lookups never re-parse documents from disk.
package library

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS recordings (
	path        TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	duration    REAL NOT NULL DEFAULT 0,
	entities    INTEGER NOT NULL DEFAULT 0,
	samples     INTEGER NOT NULL DEFAULT 0,
	captured_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_recordings_name ON recordings(name);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// OpenDB opens (or creates) the SQLite catalog and applies the schema.
func OpenDB(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("library: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("library: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("library: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
