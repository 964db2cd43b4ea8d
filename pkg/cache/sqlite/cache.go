// Package sqlite persists completed cache responses in a SQLite table.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Store keeps one row per (prompt, model).
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	prompt TEXT NOT NULL,
	model TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (prompt, model)
);
`

// New opens (and migrates) the cache database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns every stored response.
func (s *Store) Load() (map[models.CacheKey]string, error) {
	rows, err := s.db.Query(`SELECT prompt, model, response FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	defer rows.Close()

	out := make(map[models.CacheKey]string)
	for rows.Next() {
		var k models.CacheKey
		var resp string
		if err := rows.Scan(&k.Prompt, &k.Model, &resp); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out[k] = resp
	}
	return out, rows.Err()
}

// Put stores a response. An existing row for the key is kept.
func (s *Store) Put(key models.CacheKey, response string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO cache_entries (prompt, model, response, created_at) VALUES (?, ?, ?, ?)`,
		key.Prompt, key.Model, response, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Clear removes all cache entries.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
