package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"quark-webdav/internal/drive"
)

// sqliteStore persists listings across restarts. Listings are stored as JSON
// rows; the inserted_at column enforces the TTL and the oldest rows are
// evicted when capacity is exceeded.
type sqliteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
}

// NewSqliteStore opens (or creates) a SQLite-backed listing store at dbPath.
// ":memory:" works for tests.
func NewSqliteStore(dbPath string, capacity int, ttl time.Duration) (Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	pragmas := `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = memory;
	`
	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		path TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		inserted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_inserted_at ON listings (inserted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &sqliteStore{db: db, capacity: capacity, ttl: ttl}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Get(path string) ([]drive.File, bool) {
	s.mu.RLock()
	var payload []byte
	var insertedAt int64
	err := s.db.QueryRow(
		"SELECT payload, inserted_at FROM listings WHERE path = ?", path).
		Scan(&payload, &insertedAt)
	s.mu.RUnlock()
	if err != nil {
		return nil, false
	}

	if time.Since(time.UnixMilli(insertedAt)) >= s.ttl {
		s.Delete(path)
		return nil, false
	}

	var files []drive.File
	if err := json.Unmarshal(payload, &files); err != nil {
		s.Delete(path)
		return nil, false
	}
	// a cached empty listing round-trips as JSON null
	if files == nil {
		files = []drive.File{}
	}
	return files, true
}

func (s *sqliteStore) Set(path string, files []drive.File) error {
	payload, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode listing: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO listings (path, payload, inserted_at) VALUES (?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			payload = excluded.payload,
			inserted_at = excluded.inserted_at
	`, path, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert listing %s: %v", path, err)
	}

	// evict oldest rows beyond capacity
	_, err = tx.Exec(`
		DELETE FROM listings WHERE path IN (
			SELECT path FROM listings ORDER BY inserted_at DESC, path LIMIT -1 OFFSET ?
		)
	`, s.capacity)
	if err != nil {
		return fmt.Errorf("failed to evict listings: %v", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM listings WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete listing %s: %v", path, err)
	}
	return nil
}

func (s *sqliteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM listings"); err != nil {
		return fmt.Errorf("failed to clear listings: %v", err)
	}
	return nil
}
