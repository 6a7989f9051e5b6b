package store

import (
	"context"
	"sync"

	"github.com/zsiec/network-monitor/internal/network"
)

// MemoryStore is an in-process CountStore for running without Redis.
// Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	counts      map[string]int64
	recent      []network.PassengerEvent // newest last
	historySize int
}

func NewMemoryStore(historySize int) *MemoryStore {
	if historySize <= 0 {
		historySize = 1000
	}
	return &MemoryStore{
		counts:      make(map[string]int64),
		historySize: historySize,
	}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, event network.PassengerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[event.StationID] += delta(event.Type)
	s.recent = append(s.recent, event)
	if over := len(s.recent) - s.historySize; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, n int) ([]network.PassengerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.recent) {
		n = len(s.recent)
	}
	if n < 0 {
		n = 0
	}
	out := make([]network.PassengerEvent, 0, n)
	for i := len(s.recent) - 1; i >= len(s.recent)-n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts = make(map[string]int64)
	s.recent = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
