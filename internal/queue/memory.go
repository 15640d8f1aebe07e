package queue

import (
	"context"
	"sync"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
)

// MemoryStore держит очередь в памяти. Для стендов без базы данных:
// порядок и кумулятивное удаление те же, долговечности нет.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) PeekBatch(_ context.Context, limit int) ([]domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	batch := make([]domain.QueueEntry, limit)
	copy(batch, s.entries[:limit])
	return batch, nil
}

func (s *MemoryStore) DeleteThrough(_ context.Context, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := s.entries[:0]
	for _, e := range s.entries {
		if e.Sequence > sequence {
			keep = append(keep, e)
		}
	}
	s.entries = keep
	return nil
}

func (s *MemoryStore) MaxSequence(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[len(s.entries)-1].Sequence, nil
}

func (s *MemoryStore) Depth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() {}
