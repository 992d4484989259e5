package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Storage on a single sqlite table
type SQLite struct {
	path string
	db   *sql.DB
}

// NewSQLite creates a storage backed by the database file at path.
// The database is opened by Init.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Init() error {
	if strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(s.path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS entries (key TEXT PRIMARY KEY, stored_at INTEGER NOT NULL, bytes BLOB NOT NULL)"); err != nil {
		_ = db.Close()
		return fmt.Errorf("create entries table: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLite) Get(key string) ([]byte, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sqlite storage not initialized")
	}
	var data []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return data, nil
}

// PutAll writes every entry inside one transaction
func (s *SQLite) PutAll(entries map[string][]byte) (err error) {
	if s.db == nil {
		return fmt.Errorf("sqlite storage not initialized")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().UnixMilli()
	for key, data := range entries {
		if _, err = tx.Exec("INSERT OR REPLACE INTO entries (key, stored_at, bytes) VALUES (?, ?, ?)", key, now, data); err != nil {
			return fmt.Errorf("insert entry %s: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(prefix string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sqlite storage not initialized")
	}
	rows, err := s.db.Query("SELECT key FROM entries WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
