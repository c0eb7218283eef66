// Package trend provides the in-process TrendStore used when no shared
// Redis is configured.
package trend

import (
	"context"
	"sync"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

type slot struct {
	mu    sync.Mutex
	point domain.TrendPoint
	set   bool
}

// MemoryStore keeps one trend point per source in process memory. Each
// source has its own lock so swaps on different sources never contend.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*slot)}
}

func (m *MemoryStore) slot(sourceID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[sourceID]
	if !ok {
		s = &slot{}
		m.slots[sourceID] = s
	}
	return s
}

// Swap implements domain.TrendStore.
func (m *MemoryStore) Swap(_ context.Context, sourceID string, cur domain.TrendPoint) (domain.TrendPoint, bool, error) {
	s := m.slot(sourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, found := s.point, s.set
	s.point, s.set = cur, true
	return prev, found, nil
}

// Get returns the stored point for sourceID without modifying it.
func (m *MemoryStore) Get(sourceID string) (domain.TrendPoint, bool) {
	s := m.slot(sourceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.point, s.set
}

// Reset forgets every source.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = make(map[string]*slot)
}
