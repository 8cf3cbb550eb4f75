// Package tokencache provides a bounded, insertion-ordered map used to keep
// token metadata probes from being repeated. Eviction is FIFO: reads never
// refresh an entry's position.
package tokencache

import (
	"container/list"
	"sync"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a fixed-capacity FIFO map. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is the oldest insert
	items    map[K]*list.Element
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, apperr.New(apperr.KindConfiguration, "tokencache.invalid_capacity", capacity)
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}, nil
}

// Put stores value under key. An existing key is updated without changing its
// position. A new key at full capacity evicts the oldest inserted entry first;
// the evicted key is returned with evicted=true.
func (c *Cache[K, V]) Put(key K, value V) (evictedKey K, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		return evictedKey, false
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		e := c.order.Remove(oldest).(*entry[K, V])
		delete(c.items, e.key)
		evictedKey, evicted = e.key, true
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	return evictedKey, evicted
}

// Get returns the value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Remove deletes key if present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Size returns the number of entries. It never exceeds Capacity.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the keys in insertion order, oldest first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Snapshot returns a copy of the current contents.
func (c *Cache[K, V]) Snapshot() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[K]V, len(c.items))
	for k, el := range c.items {
		out[k] = el.Value.(*entry[K, V]).value
	}
	return out
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}
