// ABOUTME: Thread-safe TTL cache for outstanding challenges and live sessions.
// ABOUTME: Expiry is enforced lazily at read time; a sweeper reclaims memory.

package cache

import (
	"sync"
	"time"
)

// entry stores a cached value with its absolute expiry.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache provides a thread-safe, per-entry-TTL key-value store. It backs
// the ceremony engine's challenge and session records and the step-up
// guard's correlation-id replay protection. Reads enforce the TTL
// themselves rather than relying on the background sweeper.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

// New creates a new cache. A background goroutine periodically removes
// expired entries; correctness never depends on it.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Put stores a value under key with the given TTL, replacing any prior
// value. Replacement is what makes a second ceremony begin supersede the
// first challenge.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes the value for key. Deleting a missing key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Take returns and removes the value for key, consuming it exactly once.
// Returns false if the key is missing or expired.
func (c *Cache) Take(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	delete(c.entries, key)
	if time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// sweep runs in a background goroutine, reclaiming expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

// runSweep removes all expired entries from the cache.
func (c *Cache) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
