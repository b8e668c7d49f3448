// ABOUTME: Read-through LRU cache in front of a Directory
// ABOUTME: The delivery loop looks users up on every message, so hits skip the database

package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedDirectory caches GetUser results. Writes go through and evict.
type CachedDirectory struct {
	Directory
	cache *expirable.LRU[string, User]
}

// NewCachedDirectory wraps dir with an LRU of the given size and entry TTL.
func NewCachedDirectory(dir Directory, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	return &CachedDirectory{
		Directory: dir,
		cache:     expirable.NewLRU[string, User](size, nil, ttl),
	}
}

// GetUser returns the cached user or loads it. Misses are not cached.
func (c *CachedDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	if u, ok := c.cache.Get(id); ok {
		return &u, nil
	}
	u, err := c.Directory.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *u)
	return u, nil
}

// SaveUser writes through and evicts the cached entry.
func (c *CachedDirectory) SaveUser(ctx context.Context, user *User) error {
	defer c.cache.Remove(user.ID)
	return c.Directory.SaveUser(ctx, user)
}

// SetAgentID writes through and evicts the cached entry.
func (c *CachedDirectory) SetAgentID(ctx context.Context, id, agentID string) error {
	defer c.cache.Remove(id)
	return c.Directory.SetAgentID(ctx, id, agentID)
}

// DeleteUser writes through and evicts the cached entry.
func (c *CachedDirectory) DeleteUser(ctx context.Context, id string) error {
	defer c.cache.Remove(id)
	return c.Directory.DeleteUser(ctx, id)
}

// Purge drops every cached entry.
func (c *CachedDirectory) Purge() {
	c.cache.Purge()
}
