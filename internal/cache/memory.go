package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"quark-webdav/internal/drive"
)

// memoryStore is the default in-memory store: LRU-bounded capacity with a
// per-entry time-to-live.
type memoryStore struct {
	entries *lru.Cache
	ttl     time.Duration
}

type memoryEntry struct {
	files      []drive.File
	insertedAt time.Time
}

// NewMemoryStore creates an in-memory listing store holding at most
// capacity directories, each for at most ttl.
func NewMemoryStore(capacity int, ttl time.Duration) (Store, error) {
	entries, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %v", err)
	}
	return &memoryStore{entries: entries, ttl: ttl}, nil
}

func (s *memoryStore) Close() error {
	s.entries.Purge()
	return nil
}

func (s *memoryStore) Get(path string) ([]drive.File, bool) {
	value, ok := s.entries.Get(path)
	if !ok {
		return nil, false
	}
	entry := value.(memoryEntry)
	if time.Since(entry.insertedAt) >= s.ttl {
		s.entries.Remove(path)
		return nil, false
	}
	return entry.files, true
}

func (s *memoryStore) Set(path string, files []drive.File) error {
	s.entries.Add(path, memoryEntry{files: files, insertedAt: time.Now()})
	return nil
}

func (s *memoryStore) Delete(path string) error {
	s.entries.Remove(path)
	return nil
}

func (s *memoryStore) Clear() error {
	s.entries.Purge()
	return nil
}
