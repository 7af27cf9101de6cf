package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the shared TTL key/value store used by all provider adapters.
// Values are opaque bytes; TTL is a per-call parameter because different
// asset classes refresh at different cadences. An expired entry is
// indistinguishable from a miss.
type Cache interface {
	// Get returns the value for key, or nil when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns the present, unexpired subset of keys.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

type entry struct {
	expiresAt time.Time
	value     []byte
}

// Memory is an in-process Cache. Batched operations are atomic per key, which
// is all the concurrently running provider groups rely on.
type Memory struct {
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry
}

func NewMemory(maxItems int) *Memory {
	return &Memory{MaxItems: maxItems, items: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	return e.value, nil
}

func (m *Memory) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range keys {
		if e, ok := m.items[k]; ok && now.Before(e.expiresAt) {
			out[k] = e.value
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.SetMany(ctx, map[string][]byte{key: value}, ttl)
}

func (m *Memory) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expiry := time.Now().Add(ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]entry, len(items))
	}
	for k, v := range items {
		m.items[k] = entry{expiresAt: expiry, value: v}
	}
	m.evictLocked()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// evictLocked keeps the store under MaxItems: expired entries first, then
// arbitrary keys until under the limit.
func (m *Memory) evictLocked() {
	if m.MaxItems <= 0 || len(m.items) <= m.MaxItems {
		return
	}
	now := time.Now()
	for k, e := range m.items {
		if now.After(e.expiresAt) {
			delete(m.items, k)
		}
		if len(m.items) <= m.MaxItems {
			return
		}
	}
	for k := range m.items {
		if len(m.items) <= m.MaxItems {
			return
		}
		delete(m.items, k)
	}
}
