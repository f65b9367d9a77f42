package decisioncache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process expiring LRU.
// Expired entries are pruned in the background by the LRU itself.
type MemoryStore struct {
	lru     *expirable.LRU[string, bool]
	maxSize int
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewMemoryStore creates a MemoryStore. maxSize 0 means unbounded.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		lru:     expirable.NewLRU[string, bool](maxSize, nil, ttl),
		maxSize: maxSize,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (bool, error) {
	granted, ok := s.lru.Get(key)
	if !ok || !granted {
		s.misses.Add(1)
		return false, nil
	}
	s.hits.Add(1)
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string) error {
	s.lru.Add(key, true)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Stats() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Backend: BackendMemory,
		Size:    s.lru.Len(),
		MaxSize: s.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Close drops all entries
func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}
