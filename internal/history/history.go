// Package history records every write action the watcher applies to the
// sheet in a local SQLite journal.
//
// The journal is an audit trail, not a source of truth: the snapshot store
// decides what has been processed, the journal only answers "what did the
// collector do and when". It uses embedded SQLite with WAL so the CLI can
// query it while the watcher is writing.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Action is the kind of write the watcher applied.
type Action string

const (
	// ActionSync is a PULL-triggered aggregation written to PUSH columns.
	ActionSync Action = "sync"
	// ActionClear is a PUSH-column wipe after the user cleared the key.
	ActionClear Action = "clear"
	// ActionRestore is a reversal of an unauthorized PUSH edit.
	ActionRestore Action = "restore"
)

// Entry is one journal row.
type Entry struct {
	ID         int64
	Sheet      string
	Row        int
	Col        int
	Column     string
	OldValue   string
	NewValue   string
	Action     Action
	ElapsedMS  int64
	RecordedAt time.Time
}

// DB wraps the journal database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the journal at path. The caller must Close it.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// WAL lets CLI queries run while the watcher appends.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// InitSchema creates the journal table if it does not exist.
func (d *DB) InitSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sheet       TEXT    NOT NULL,
	row         INTEGER NOT NULL,
	col         INTEGER NOT NULL,
	column_name TEXT    NOT NULL,
	old_value   TEXT    NOT NULL DEFAULT '',
	new_value   TEXT    NOT NULL DEFAULT '',
	action      TEXT    NOT NULL,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_recorded_at ON changes(recorded_at);
CREATE INDEX IF NOT EXISTS idx_changes_sheet_row ON changes(sheet, row);
`
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record appends one entry to the journal.
func (d *DB) Record(e Entry) error {
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := d.conn.Exec(
		`INSERT INTO changes (sheet, row, col, column_name, old_value, new_value, action, elapsed_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sheet, e.Row, e.Col, e.Column, e.OldValue, e.NewValue, string(e.Action), e.ElapsedMS,
		recordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (d *DB) Recent(limit int) ([]Entry, error) {
	rows, err := d.conn.Query(
		`SELECT id, sheet, row, col, column_name, old_value, new_value, action, elapsed_ms, recorded_at
		 FROM changes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action, recordedAt string
		if err := rows.Scan(&e.ID, &e.Sheet, &e.Row, &e.Col, &e.Column,
			&e.OldValue, &e.NewValue, &action, &e.ElapsedMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Action = Action(action)
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and returns the
// number removed.
func (d *DB) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := d.conn.Exec(`DELETE FROM changes WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
