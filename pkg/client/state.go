package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// State remembers client settings between runs: the last username and
// which servers were reached, and over which transport
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS Config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ConnectionHistory (
	server_address  TEXT PRIMARY KEY,
	transport       TEXT NOT NULL,
	username        TEXT NOT NULL,
	last_success_at INTEGER NOT NULL
);`

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// LastUsername returns the last username that was admitted
func (s *State) LastUsername() string {
	name, _ := s.GetConfig("last_username")
	return name
}

// LastServer returns the last server that admitted us
func (s *State) LastServer() string {
	addr, _ := s.GetConfig("last_server")
	return addr
}

// RecordConnection remembers a successful join
func (s *State) RecordConnection(c *Connection) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO Config (key, value) VALUES ('last_username', ?), ('last_server', ?)`,
		c.Username(), c.Address()); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, transport, username, last_success_at)
		VALUES (?, ?, ?, ?)
	`, c.Address(), c.Transport(), c.Username(), time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// LastTransport returns the transport that last worked for serverAddress, or "" if
// we never connected to it
func (s *State) LastTransport(serverAddress string) (string, error) {
	var transport string
	err := s.db.QueryRow(`
		SELECT transport FROM ConnectionHistory WHERE server_address = ?
	`, serverAddress).Scan(&transport)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return transport, err
}

// Dir returns the directory where state is stored
func (s *State) Dir() string {
	return s.dir
}
