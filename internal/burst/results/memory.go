package results

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent results in a ring buffer.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []*Result
	next  int
	count int
	byID  map[string]*Result
}

// NewMemoryStore creates a store holding at most capacity results.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		ring: make([]*Result, capacity),
		byID: make(map[string]*Result, capacity),
	}
}

func (m *MemoryStore) Save(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.ring[m.next]; old != nil {
		delete(m.byID, old.ID)
	}
	m.ring[m.next] = r
	m.byID[r.ID] = r
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.count {
		limit = m.count
	}

	out := make([]*Result, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		cp := *m.ring[idx]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored results.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}
