package app

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory KeyValueStore with TTL semantics and an
// injectable clock, shared by the service tests in this package.
type memStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memItem
}

type memItem struct {
	value     string
	expiresAt time.Time
	sliding   time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		now:   time.Now,
		items: make(map[string]memItem),
	}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", false, nil
	}
	if item.sliding > 0 {
		item.expiresAt = m.now().Add(item.sliding)
		m.items[key] = item
	}
	return item.value, true, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value}
	return nil
}

func (m *memStore) SetWithSlidingTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value, expiresAt: m.now().Add(ttl), sliding: ttl}
	return nil
}

func (m *memStore) SetWithAbsoluteTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}
