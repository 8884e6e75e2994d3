package memstore

import (
	"context"
	"sync"

	"github.com/restaurant-ops/restops/internal/closure"
)

// Cache is an in-memory closure.LocalCache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]closure.CacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]closure.CacheEntry)}
}

// Load implements closure.LocalCache.
func (c *Cache) Load(ctx context.Context, clientID string) (closure.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[clientID], nil
}

// Save implements closure.LocalCache.
func (c *Cache) Save(ctx context.Context, clientID string, entry closure.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[clientID] = entry
	return nil
}
