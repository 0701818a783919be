package history

import (
	"context"
	"sync"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/threshold"
)

// defaultMemCap bounds per-stream slices in a [MemStore] between Prune
// calls, so an unpruned in-memory deployment still cannot grow unbounded.
const defaultMemCap = 2000

// MemStore is an in-memory [Store]. It is the default when no database is
// configured, and the fallback target when the database breaker is open.
type MemStore struct {
	mu         sync.RWMutex
	thresholds map[string][]threshold.Entry
	detections map[string][]classify.Result
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		thresholds: make(map[string][]threshold.Entry),
		detections: make(map[string][]classify.Result),
	}
}

// SaveThreshold records e for stream, evicting the oldest entry beyond the
// internal cap.
func (s *MemStore) SaveThreshold(_ context.Context, stream string, e threshold.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.thresholds[stream], e)
	if len(list) > defaultMemCap {
		list = list[len(list)-defaultMemCap:]
	}
	s.thresholds[stream] = list
	return nil
}

// SaveDetection records r for stream, evicting the oldest entry beyond the
// internal cap.
func (s *MemStore) SaveDetection(_ context.Context, stream string, r classify.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.detections[stream], r)
	if len(list) > defaultMemCap {
		list = list[len(list)-defaultMemCap:]
	}
	s.detections[stream] = list
	return nil
}

// RecentThresholds returns up to limit entries for stream, newest first.
func (s *MemStore) RecentThresholds(_ context.Context, stream string, limit int) ([]threshold.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.thresholds[stream]
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]threshold.Entry, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// RecentDetections returns up to limit results for stream, newest first.
func (s *MemStore) RecentDetections(_ context.Context, stream string, limit int) ([]classify.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.detections[stream]
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]classify.Result, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Prune drops all but the newest keep rows per stream.
func (s *MemStore) Prune(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, list := range s.thresholds {
		if len(list) > keep {
			s.thresholds[k] = list[len(list)-keep:]
		}
	}
	for k, list := range s.detections {
		if len(list) > keep {
			s.detections[k] = list[len(list)-keep:]
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
