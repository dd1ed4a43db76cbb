package cache

import (
	"context"
	"maps"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is an in-process Store, used when no redis is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(item.expiresAt) {
		return nil, nil
	}

	entry := item.entry
	entry.Data = maps.Clone(item.entry.Data)
	return &entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	stored := *entry
	stored.Data = maps.Clone(entry.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{entry: stored, expiresAt: s.now().Add(ttl)}
	return nil
}
