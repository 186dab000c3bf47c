// Package cache contains cache implementations safe for concurrent use
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

// LRU represents a LRU cache
type LRU struct {
	cache *simplelru.LRU
	mu    sync.Mutex
}

// NewLRU creates a new LRU Cache.
func NewLRU(maxEntries int) (*LRU, error) {
	c, err := simplelru.NewLRU(maxEntries, nil)
	if err != nil {
		return nil, err
	}
	return &LRU{
		cache: c,
	}, nil
}

// Get looks up a key's value from the cache.
func (c *LRU) Get(key interface{}) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Get(key)
}

// Add adds a value to the cache.
func (c *LRU) Add(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, value)
}

// Remove removes a key from the cache
func (c *LRU) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(key)
}

// RemoveFunc removes all the keys matching the predicate, and returns
// how many were removed
func (c *LRU) RemoveFunc(match func(key interface{}) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.cache.Keys() {
		if match(k) {
			c.cache.Remove(k)
			removed++
		}
	}
	return removed
}

// Clear purges all stored items from the cache.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}

// Len returns the number of items in the cache.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}
