package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// TTLMap is a mutex-guarded map whose entries carry an expiry. An entry with a
// zero expiry never expires. An entry expires once now is after its expiry.
type TTLMap[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
}

func NewTTLMap[K comparable, V any]() *TTLMap[K, V] {
	return &TTLMap[K, V]{items: map[K]item[V]{}}
}

func (m *TTLMap[K, V]) Get(key K) (V, time.Time, bool) {
	var zero V
	if m == nil {
		return zero, time.Time{}, false
	}
	m.mu.Lock()
	it, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return zero, time.Time{}, false
	}
	return it.Value, it.ExpiresAt, true
}

// Update runs fn under the map lock with the current entry (ok reports whether
// one exists, expired or not) and stores whatever fn returns.
func (m *TTLMap[K, V]) Update(key K, fn func(cur V, expiresAt time.Time, ok bool) (V, time.Time)) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	v, exp := fn(it.Value, it.ExpiresAt, ok)
	m.items[key] = item[V]{Value: v, ExpiresAt: exp}
}

// Prune deletes expired entries and returns how many were removed.
func (m *TTLMap[K, V]) Prune(now time.Time) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, it := range m.items {
		if it.ExpiresAt.IsZero() || !now.After(it.ExpiresAt) {
			continue
		}
		delete(m.items, k)
		removed++
	}
	return removed
}

func (m *TTLMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
