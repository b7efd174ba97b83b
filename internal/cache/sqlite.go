package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS fetch_cache (
  namespace TEXT NOT NULL,
  key TEXT NOT NULL,
  payload BLOB NOT NULL,
  fetched_at TEXT NOT NULL,
  PRIMARY KEY (namespace, key)
)`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get looks up a record. A missing row, an unparsable payload, or an
// unparsable timestamp all report a miss: the cache is advisory, never a
// source of fatal errors.
func (s *SQLiteStore) Get(namespace, key string) (*Record, error) {
	var payload []byte
	var fetchedAt string
	err := s.db.QueryRow(
		`SELECT payload, fetched_at FROM fetch_cache WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	if !json.Valid(payload) {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		ts = time.Time{}
	}

	return &Record{
		Namespace: namespace,
		Key:       key,
		Payload:   payload,
		FetchedAt: ts,
	}, nil
}

// Put stores a record, replacing any previous one for the same key.
func (s *SQLiteStore) Put(rec *Record) error {
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("refusing to cache unparsable payload for %q", rec.Key)
	}
	at := rec.FetchedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO fetch_cache (namespace, key, payload, fetched_at) VALUES (?, ?, ?, ?)`,
		rec.Namespace, rec.Key, []byte(rec.Payload), at.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Clear removes all records in a namespace, or everything when namespace
// is empty.
func (s *SQLiteStore) Clear(namespace string) error {
	var err error
	if namespace == "" {
		_, err = s.db.Exec(`DELETE FROM fetch_cache`)
	} else {
		_, err = s.db.Exec(`DELETE FROM fetch_cache WHERE namespace = ?`, namespace)
	}
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}
