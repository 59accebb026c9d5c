// Package cache holds the proxy's bounded local copy of recently accessed values.
//
// Eviction is FIFO by insertion order. Reads never change the order; a Put of a
// key that is already present replaces the value and makes the entry the newest.
// Every entry that leaves the cache is handed back to the caller, which must
// write it to the backend.
package cache

import (
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is a key-value pair removed from the cache.
type Entry struct {
	Key   string
	Value []byte
}

// Cache is a capacity-bounded key-value store. It is not safe for concurrent
// use; the round scheduler owns it.
type Cache struct {
	entries  *simplelru.LRU[string, []byte]
	capacity int

	// set by onEvict while a Put or EvictOne is in progress
	evicted *Entry
}

// New creates an empty cache holding at most capacity entries.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	c := &Cache{capacity: capacity}
	entries, err := simplelru.NewLRU[string, []byte](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

func (c *Cache) onEvict(key string, value []byte) {
	c.evicted = &Entry{Key: key, Value: value}
}

// Has reports whether key is cached.
func (c *Cache) Has(key string) bool {
	return c.entries.Contains(key)
}

// Get returns the cached value for key without affecting eviction order.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.entries.Peek(key)
}

// Put inserts or replaces key. When key is new and the cache is full, the
// oldest entry is evicted and returned with true.
func (c *Cache) Put(key string, value []byte) (Entry, bool) {
	c.evicted = nil
	c.entries.Add(key, value)
	return c.takeEvicted()
}

// EvictOne removes and returns the oldest entry, or false when the cache is empty.
func (c *Cache) EvictOne() (Entry, bool) {
	c.evicted = nil
	if _, _, ok := c.entries.RemoveOldest(); !ok {
		return Entry{}, false
	}
	return c.takeEvicted()
}

func (c *Cache) takeEvicted() (Entry, bool) {
	if c.evicted == nil {
		return Entry{}, false
	}
	e := *c.evicted
	c.evicted = nil
	return e, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Full reports whether the next Put of a new key would evict.
func (c *Cache) Full() bool {
	return c.entries.Len() >= c.capacity
}

// Keys returns the cached keys from oldest to newest.
func (c *Cache) Keys() []string {
	return c.entries.Keys()
}
