package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// Memory is a bounded in-process cache. When full, the oldest insertion is evicted.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	order []string
	size  int
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory holds at most size entries; a zero ttl never expires them.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{
		items: make(map[string]memoryItem, size),
		order: make([]string, 0, size),
		size:  size,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && m.now().After(item.expiresAt) {
		m.remove(key)
		return nil, nil
	}

	entry := item.entry
	return &entry, nil
}

func (m *Memory) Set(_ context.Context, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{entry: *entry}
	if m.ttl > 0 {
		item.expiresAt = m.now().Add(m.ttl)
	}

	if _, exists := m.items[key]; exists {
		m.items[key] = item
		return nil
	}

	for len(m.order) >= m.size {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.items, oldest)
	}

	m.items[key] = item
	m.order = append(m.order, key)
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) remove(key string) {
	delete(m.items, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
