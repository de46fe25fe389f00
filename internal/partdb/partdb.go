// Package partdb persists catalog lookups and enrichment run history in a
// local SQLite database.
package partdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/internal/sqlite"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = "1"

// timeNow is a variable to allow testing of time-dependent behavior.
var timeNow = time.Now

// DefaultPath returns the default database location under the user cache
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	return filepath.Join(dir, "kicad-lcsc", "parts.db"), nil
}

// DB is a SQLite-backed part cache and run journal.
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Run records the outcome of one enrichment or verification run.
type Run struct {
	ID           string
	Kind         string
	Target       string
	InputSHA256  string
	InputBLAKE3  string
	OutputSHA256 string
	OutputBLAKE3 string
	Applied      int
	Skipped      int
	Unresolved   int
	Failed       int
	CreatedAt    time.Time
}

// Stats describes the database contents.
type Stats struct {
	Path        string
	Parts       int64
	Runs        int64
	OldestFetch time.Time
	NewestFetch time.Time
	SizeBytes   int64
	Driver      sqlite.Info
}

// Open opens the database at path, creating the file and schema if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS parts (
			code TEXT PRIMARY KEY,
			manufacturer TEXT NOT NULL,
			mpn TEXT NOT NULL,
			package TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0,
			fetched_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			input_sha256 TEXT NOT NULL DEFAULT '',
			input_blake3 TEXT NOT NULL DEFAULT '',
			output_sha256 TEXT NOT NULL DEFAULT '',
			output_blake3 TEXT NOT NULL DEFAULT '',
			applied INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			unresolved INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &DB{db: db, path: path}

	version, err := s.getMetadata("schema_version")
	if err != nil {
		db.Close()
		return nil, err
	}
	switch version {
	case "":
		if err := s.setMetadata("schema_version", SchemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	case SchemaVersion:
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported schema version: %s (expected %s)", version, SchemaVersion)
	}

	return s, nil
}

// Path returns the database file path.
func (s *DB) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// Get retrieves a cached part by code. Entries older than maxAge are treated
// as misses; a maxAge of zero disables expiry.
func (s *DB) Get(code string, maxAge time.Duration) (catalog.Part, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p catalog.Part
	var fetchedAt int64
	err := s.db.QueryRow(`
		SELECT code, manufacturer, mpn, package, description, stock, fetched_at
		FROM parts WHERE code = ?
	`, code).Scan(&p.Code, &p.Manufacturer, &p.MPN, &p.Package, &p.Description, &p.Stock, &fetchedAt)
	if err == sql.ErrNoRows {
		return catalog.Part{}, false, nil
	}
	if err != nil {
		return catalog.Part{}, false, fmt.Errorf("failed to query part: %w", err)
	}

	if maxAge > 0 && timeNow().Sub(time.Unix(fetchedAt, 0)) > maxAge {
		return catalog.Part{}, false, nil
	}
	return p, true, nil
}

// Put stores a part, replacing any existing entry for the same code.
func (s *DB) Put(p catalog.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO parts (code, manufacturer, mpn, package, description, stock, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			manufacturer = excluded.manufacturer,
			mpn = excluded.mpn,
			package = excluded.package,
			description = excluded.description,
			stock = excluded.stock,
			fetched_at = excluded.fetched_at
	`, p.Code, p.Manufacturer, p.MPN, p.Package, p.Description, p.Stock, timeNow().Unix())
	if err != nil {
		return fmt.Errorf("failed to store part: %w", err)
	}
	return nil
}

// RecordRun appends a run to the journal. A zero CreatedAt is filled in with
// the current time.
func (s *DB) RecordRun(r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = timeNow()
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, kind, target, input_sha256, input_blake3,
			output_sha256, output_blake3, applied, skipped, unresolved, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Kind, r.Target, r.InputSHA256, r.InputBLAKE3,
		r.OutputSHA256, r.OutputBLAKE3, r.Applied, r.Skipped, r.Unresolved, r.Failed, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *DB) Runs(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, kind, target, input_sha256, input_blake3,
			output_sha256, output_blake3, applied, skipped, unresolved, failed, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Target, &r.InputSHA256, &r.InputBLAKE3,
			&r.OutputSHA256, &r.OutputBLAKE3, &r.Applied, &r.Skipped, &r.Unresolved, &r.Failed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Info returns database statistics.
func (s *DB) Info() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Path: s.path, Driver: sqlite.GetInfo()}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM parts`).Scan(&stats.Parts); err != nil {
		return Stats{}, fmt.Errorf("failed to count parts: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&stats.Runs); err != nil {
		return Stats{}, fmt.Errorf("failed to count runs: %w", err)
	}

	if stats.Parts > 0 {
		var oldest, newest int64
		err := s.db.QueryRow(`SELECT MIN(fetched_at), MAX(fetched_at) FROM parts`).Scan(&oldest, &newest)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to query fetch range: %w", err)
		}
		stats.OldestFetch = time.Unix(oldest, 0)
		stats.NewestFetch = time.Unix(newest, 0)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats, nil
}

// Prune removes cached parts fetched longer ago than olderThan and returns
// the number of removed entries.
func (s *DB) Prune(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := timeNow().Add(-olderThan).Unix()
	res, err := s.db.Exec(`DELETE FROM parts WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune parts: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all cached parts. Run history is preserved.
func (s *DB) Clear() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM parts`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear parts: %w", err)
	}
	return res.RowsAffected()
}

// getMetadata retrieves a metadata value by key.
func (s *DB) getMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query metadata: %w", err)
	}
	return value, nil
}

// setMetadata stores a metadata value by key.
func (s *DB) setMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}
