// Package cache provides a small read-through cache with a fixed TTL.
// It fronts certificate resolution to absorb repeated signature
// verification bursts. Entries expire unconditionally after the TTL;
// there is no invalidation on writes, an accepted staleness window
// given how rarely certificates change.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the expiry used when no TTL is configured.
const DefaultTTL = 10 * time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe read-through cache keyed by string.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates a cache with the given TTL. A non-positive ttl selects
// DefaultTTL.
func New[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with the configured TTL.
func (c *TTL[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value for key, or invokes load and caches
// its result. Load errors are not cached.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}
