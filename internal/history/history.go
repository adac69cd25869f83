// Package history provides SQLite-backed download history and settings storage
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pindl/pkg/models"
)

// Entry is one recorded per-item outcome
type Entry struct {
	ID        int64            `json:"id" db:"id"`
	Owner     string           `json:"owner" db:"owner"`
	ItemID    string           `json:"item_id" db:"item_id"`
	Title     string           `json:"title" db:"title"`
	Filename  string           `json:"filename" db:"filename"`
	MediaType models.MediaType `json:"media_type" db:"media_type"`
	Status    string           `json:"status" db:"status"`
	Reason    string           `json:"reason" db:"reason"`
	Path      string           `json:"path" db:"path"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// Outcome statuses recorded per item
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	// Add connection parameters to help with concurrent access
	connString := dbPath
	if dbPath != ":memory:" {
		connString = dbPath + "?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL"
	}

	conn, err := sql.Open("sqlite", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS item_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		item_id TEXT NOT NULL,
		title TEXT,
		filename TEXT NOT NULL,
		media_type TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		path TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_item_history_owner ON item_history(owner);
	CREATE INDEX IF NOT EXISTS idx_item_history_created_at ON item_history(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordOutcome stores one per-item outcome row
func (db *DB) RecordOutcome(entry *Entry) error {
	query := `
	INSERT INTO item_history (
		owner, item_id, title, filename, media_type, status, reason, path, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.conn.Exec(query,
		entry.Owner, entry.ItemID, entry.Title, entry.Filename,
		entry.MediaType, entry.Status, entry.Reason, entry.Path, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get outcome ID: %w", err)
	}
	entry.ID = id

	return nil
}

// ListByOwner returns an owner's history, newest first
func (db *DB) ListByOwner(owner string, limit int) ([]*Entry, error) {
	query := `
	SELECT id, owner, item_id, title, filename, media_type, status, reason, path, created_at
	FROM item_history
	WHERE owner = ?
	ORDER BY created_at DESC
	LIMIT ?
	`
	return db.queryEntries(query, owner, limit)
}

// ListRecent returns the most recent history rows across all owners
func (db *DB) ListRecent(limit int) ([]*Entry, error) {
	query := `
	SELECT id, owner, item_id, title, filename, media_type, status, reason, path, created_at
	FROM item_history
	ORDER BY created_at DESC
	LIMIT ?
	`
	return db.queryEntries(query, limit)
}

// Owners returns every distinct owner with recorded history
func (db *DB) Owners() ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT owner FROM item_history ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// DeleteOldEntries removes history rows older than the retention window
func (db *DB) DeleteOldEntries(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	if _, err := db.conn.Exec(`DELETE FROM item_history WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}
	return nil
}

// SetSetting stores a key-value setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	query := `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.conn.Exec(query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting reads a setting, reporting absence without error
func (db *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (db *DB) queryEntries(query string, args ...any) ([]*Entry, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		err := rows.Scan(
			&entry.ID, &entry.Owner, &entry.ItemID, &entry.Title, &entry.Filename,
			&entry.MediaType, &entry.Status, &entry.Reason, &entry.Path, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
