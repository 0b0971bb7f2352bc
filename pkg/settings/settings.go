// Package settings persists operator-tunable values in a small SQLite
// key/value store under the vivarium home directory. Unlike config.toml,
// which an operator edits by hand, settings change at runtime (for example
// the resident worker count adjusted from the control panel) and survive
// restarts.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver
)

// Well-known keys.
const (
	// KeyResidentCount is the target worker count used when a start
	// request does not name one.
	KeyResidentCount = "resident_count"
)

// DefaultResidentCount applies when the store has no stored value.
const DefaultResidentCount = 1

// schemaDDL defines the settings table. Executed on every open, so fresh
// and existing databases take the same path.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// Store is a SQLite-backed key/value settings store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the settings database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping settings database: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply settings schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the stored value for key, or ("", false) when unset.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))"+
			" ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ResidentCount returns the persisted target worker count, falling back to
// DefaultResidentCount when unset or unparseable.
func (s *Store) ResidentCount() (int, error) {
	value, ok, err := s.Get(KeyResidentCount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultResidentCount, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return DefaultResidentCount, nil
	}
	return n, nil
}

// SetResidentCount persists the target worker count. Values below 1 are
// rejected.
func (s *Store) SetResidentCount(n int) error {
	if n < 1 {
		return fmt.Errorf("resident count must be at least 1, got %d", n)
	}
	return s.Set(KeyResidentCount, strconv.Itoa(n))
}
