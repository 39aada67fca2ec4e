package store

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a thread-safe in-memory Store. Default for local use;
// history is lost when the process exits.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []TransferRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveTransfer(ctx context.Context, rec *TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *InMemoryStore) ListTransfers(ctx context.Context, platform string) ([]TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TransferRecord, 0, len(s.records))
	for _, rec := range s.records {
		if platform == "" || rec.Platform == platform {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
