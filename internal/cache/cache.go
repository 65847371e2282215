// Package cache provides the fragment cache used to skip repeated model calls
// for identical pages.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryClient implements an in-process cache.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// cacheEntry with a zero expiresAt never expires, like a zero TTL in Redis.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 1000
	}

	c := &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go c.cleanup(time.Minute)

	return c
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a value in cache with TTL. A TTL of zero or less keeps the
// value until it is evicted.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	entry := cacheEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = entry

	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close stops the cleanup goroutine.
func (c *MemoryClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// evictOldest removes the entry with the earliest expiration. Entries
// without expiry go last.
func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if oldestKey == "" || earlier(entry.expiresAt, oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// earlier orders expirations with the zero time as "never".
func earlier(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	}
	return a.Before(b)
}

// cleanup periodically removes expired entries.
func (c *MemoryClient) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.data {
				if entry.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
