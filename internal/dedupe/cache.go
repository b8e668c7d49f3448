// ABOUTME: Thread-safe TTL cache for dropping redelivered platform events
// ABOUTME: Backed by an expiring LRU so memory stays bounded under bursty syncs

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache remembers recently seen keys (event ids) for a fixed TTL.
type Cache struct {
	mu   sync.Mutex // makes CheckAndMark atomic
	seen *expirable.LRU[string, struct{}]
}

// New creates a cache holding at most maxSize keys for ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// Check reports whether key has been seen and has not expired.
func (c *Cache) Check(key string) bool {
	_, ok := c.seen.Peek(key)
	return ok
}

// CheckAndMark reports whether key was already seen, marking it if not.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen.Peek(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Mark records key as seen, refreshing its TTL. The oldest key is evicted at capacity.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen.Add(key, struct{}{})
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	return c.seen.Len()
}

// Close drops every key.
func (c *Cache) Close() {
	c.seen.Purge()
}
