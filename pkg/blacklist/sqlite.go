package blacklist

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps entries in a SQLite table
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and initializes the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: the blacklist is written rarely and never concurrently
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	// Set busy timeout to 5 seconds
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS ip_blacklist (
			entry      TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Load returns all stored entries in insertion order
func (s *SQLiteStore) Load() ([]string, error) {
	rows, err := s.conn.Query(`SELECT entry FROM ip_blacklist ORDER BY created_at, entry`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Save replaces the table contents with entries in one transaction.
// Entries kept across saves retain their original created_at.
func (s *SQLiteStore) Save(entries []string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS keep (entry TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM keep`); err != nil {
		return fmt.Errorf("failed to reset temp table: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, entry := range entries {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO keep (entry) VALUES (?)`, entry); err != nil {
			return fmt.Errorf("failed to stage entry %s: %w", entry, err)
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO ip_blacklist (entry, created_at) VALUES (?, ?)`, entry, now); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", entry, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM ip_blacklist WHERE entry NOT IN (SELECT entry FROM keep)`); err != nil {
		return fmt.Errorf("failed to prune blacklist: %w", err)
	}

	return tx.Commit()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
