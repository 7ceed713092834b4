// Package tilestore persists rendered tiles in SQLite so restarts do not
// start from a cold cache.
package tilestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Tile identifies a stored tile. Params is the canonical parameter key.
type Tile struct {
	ModelVersion string
	Month        int
	Z, X, Y      int
	Params       string
}

// Store provides persistent storage for rendered tiles using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based tile store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tiles (
		model_version TEXT NOT NULL,
		month INTEGER NOT NULL,
		z INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		params TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (model_version, month, z, x, y, params)
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_created ON tiles(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored tile bytes; ok is false when the tile is absent.
func (s *Store) Get(t Tile) (data []byte, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT data FROM tiles
		WHERE model_version = ? AND month = ? AND z = ? AND x = ? AND y = ? AND params = ?
	`, t.ModelVersion, t.Month, t.Z, t.X, t.Y, t.Params)

	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put stores or replaces a tile.
func (s *Store) Put(t Tile, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tiles (model_version, month, z, x, y, params, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ModelVersion,
		t.Month,
		t.Z, t.X, t.Y,
		t.Params,
		data,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteOtherVersions drops tiles rendered by any model version other than
// keep. It returns the number of removed tiles.
func (s *Store) DeleteOtherVersions(keep string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM tiles WHERE model_version <> ?", keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpired deletes tiles older than retentionDays.
func (s *Store) DeleteExpired(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := s.db.Exec("DELETE FROM tiles WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of stored tiles.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n)
	return n, err
}
