// Package lru is a bounded, thread-safe least recently used cache. Cached
// values never expire, they only leave the cache when it overflows or is purged.
package lru

import "sync"

// EvictCallback is called with every entry that leaves the cache
type EvictCallback[K comparable, V any] func(key K, value V)

type node[K comparable, V any] struct {
	key        K
	value      V
	newer, old *node[K, V]
}

// LRU fixed size cache, a size of 0 disables eviction
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	size    int
	onEvict EvictCallback[K, V]
	items   map[K]*node[K, V]
	// head.old is the most recent node, head.newer the least recent one
	head node[K, V]
}

// NewLRU creates a cache holding at most size entries
func NewLRU[K comparable, V any](size int, onEvict EvictCallback[K, V]) *LRU[K, V] {
	if size < 0 {
		size = 0
	}
	c := &LRU[K, V]{size: size, onEvict: onEvict, items: map[K]*node[K, V]{}}
	c.head.newer, c.head.old = &c.head, &c.head
	return c
}

func (c *LRU[K, V]) unlink(n *node[K, V]) {
	n.newer.old, n.old.newer = n.old, n.newer
	n.newer, n.old = nil, nil
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.newer, n.old = &c.head, c.head.old
	c.head.old.newer = n
	c.head.old = n
}

func (c *LRU[K, V]) drop(n *node[K, V]) {
	c.unlink(n)
	delete(c.items, n.key)
	if c.onEvict != nil {
		c.onEvict(n.key, n.value)
	}
}

// Add stores value under key, reporting whether the oldest entry had to go
func (c *LRU[K, V]) Add(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.value = value
		c.unlink(n)
		c.pushFront(n)
		return false
	}

	n := &node[K, V]{key: key, value: value}
	c.items[key] = n
	c.pushFront(n)

	if c.size > 0 && len(c.items) > c.size {
		c.drop(c.head.newer)
		return true
	}
	return false
}

// Get returns the value of key and marks it as the most recent entry
func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return value, false
	}
	c.unlink(n)
	c.pushFront(n)
	return n.value, true
}

// Contains reports whether key is cached without touching its recency
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Remove drops key, reporting whether it was cached
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if ok {
		c.drop(n)
	}
	return ok
}

// Purge empties the cache, onEvict sees every dropped entry
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.head.newer != &c.head {
		c.drop(c.head.newer)
	}
}

// Keys lists the cached keys from the least to the most recent
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for n := c.head.newer; n != &c.head; n = n.newer {
		keys = append(keys, n.key)
	}
	return keys
}

// Len number of cached entries
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cap configured size
func (c *LRU[K, V]) Cap() int {
	return c.size
}
