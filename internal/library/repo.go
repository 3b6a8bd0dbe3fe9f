package library

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one cataloged recording file.
type Entry struct {
	// ID is a stable identifier assigned when the file first enters the
	// catalog. Re-indexing a changed file keeps its id.
	ID         string
	Name       string
	Path       string
	Checksum   string
	Duration   float64
	Entities   int
	Samples    int
	CapturedAt time.Time
}

// Upsert inserts or refreshes a catalog row keyed by path. The stored id
// survives updates so external references stay valid across rewrites.
func (db *DB) Upsert(e Entry) error {
	_, err := db.conn.Exec(`
		INSERT INTO recordings (path, id, name, checksum, duration, entities, samples, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name        = excluded.name,
			checksum    = excluded.checksum,
			duration    = excluded.duration,
			entities    = excluded.entities,
			samples     = excluded.samples,
			captured_at = excluded.captured_at
	`, e.Path, e.ID, e.Name, e.Checksum, e.Duration, e.Entities, e.Samples,
		e.CapturedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("library: upsert %s: %w", e.Path, err)
	}
	return nil
}

// Delete removes a catalog row. It reports whether a row existed.
func (db *DB) Delete(path string) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM recordings WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("library: delete %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("library: delete %s: %w", path, err)
	}
	return affected > 0, nil
}

// Checksums returns the stored checksum per cataloged path.
func (db *DB) Checksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM recordings`)
	if err != nil {
		return nil, fmt.Errorf("library: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, sum string
		if err := rows.Scan(&path, &sum); err != nil {
			return nil, err
		}
		out[path] = sum
	}
	return out, rows.Err()
}

// List returns every catalog entry ordered by name.
func (db *DB) List() ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT path, id, name, checksum, duration, entities, samples, captured_at
		FROM recordings ORDER BY name, path
	`)
	if err != nil {
		return nil, fmt.Errorf("library: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Find returns the newest entry with the given name, if any.
func (db *DB) Find(name string) (Entry, bool, error) {
	row := db.conn.QueryRow(`
		SELECT path, id, name, checksum, duration, entities, samples, captured_at
		FROM recordings WHERE name = ? ORDER BY captured_at DESC LIMIT 1
	`, name)
	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("library: find %q: %w", name, err)
	}
	return entry, true, nil
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var entry Entry
	var capturedAt string
	if err := scan(&entry.Path, &entry.ID, &entry.Name, &entry.Checksum,
		&entry.Duration, &entry.Entities, &entry.Samples, &capturedAt); err != nil {
		return Entry{}, err
	}
	if capturedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, capturedAt); err == nil {
			entry.CapturedAt = ts
		}
	}
	return entry, nil
}
