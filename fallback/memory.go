package fallback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nanzhong/marketdata/market"
)

type storeKey struct {
	symbol   string
	dataType market.DataType
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[storeKey]market.Item
	failures map[storeKey]Record
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[storeKey]market.Item),
		failures: make(map[storeKey]Record),
		now:      time.Now,
	}
}

func (s *MemoryStore) RecordFailedFetch(ctx context.Context, symbol string, dataType market.DataType, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[storeKey{symbol, dataType}] = Record{
		Symbol:     symbol,
		DataType:   dataType,
		LastError:  reason,
		RecordedAt: s.now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetFallbackForSymbol(ctx context.Context, symbol string, dataType market.DataType) (*market.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.values[storeKey{symbol, dataType}]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *MemoryStore) GetFallbackData(ctx context.Context, dataType market.DataType, symbols []string) (map[string]market.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Item)
	for _, symbol := range symbols {
		if item, ok := s.values[storeKey{symbol, dataType}]; ok {
			out[symbol] = item
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveFallbackData(ctx context.Context, dataType market.DataType, items map[string]market.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, item := range items {
		s.values[storeKey{symbol, dataType}] = item
	}
	return nil
}

func (s *MemoryStore) FailedSymbols(ctx context.Context, day time.Time, dataType market.DataType) ([]Record, error) {
	start, end := dayBounds(day)

	s.mu.RLock()
	var out []Record
	for k, r := range s.failures {
		if k.dataType != dataType || r.RecordedAt.Before(start) || !r.RecordedAt.Before(end) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
