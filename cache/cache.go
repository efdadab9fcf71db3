// Package cache provides a thread-safe LRU cache for parsed FHIRPath
// expressions, so hot expressions are tokenized and parsed once.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/probemed/fhirpath"
)

// LRU is a generic thread-safe least-recently-used cache with lock-free
// hit/miss metrics.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List
	capacity int

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates an LRU cache holding up to capacity entries. A
// non-positive capacity defaults to 128.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRU[K, V]{
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(e)
	return e.Value.(*lruEntry[K, V]).value, true
}

// Set adds or updates a value, evicting the least recently used entry
// when the cache is full.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.Value.(*lruEntry[K, V]).value = value
		c.order.MoveToFront(e)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// evictOldest must be called with mu held.
func (c *LRU[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
	c.order.Remove(oldest)
	c.evicts.Add(1)
}

// Len returns the current number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries. Metrics are not reset.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

// Stats is a point-in-time snapshot of cache metrics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	HitRate  float64
}

func (c *LRU[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Size:     c.Len(),
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		HitRate:  hitRate,
	}
}

// Expressions caches parsed expressions keyed by the xxhash digest of
// their source text. Parsed expressions are immutable, so a cached
// Expression is safe to share between goroutines.
type Expressions struct {
	lru *LRU[uint64, fhirpath.Expression]
}

// NewExpressions creates an expression cache holding up to capacity
// parsed expressions.
func NewExpressions(capacity int) *Expressions {
	return &Expressions{lru: NewLRU[uint64, fhirpath.Expression](capacity)}
}

// Parse returns the cached expression for src, parsing and caching it
// on a miss. Parse failures are not cached; malformed expressions are
// expected to be rare and callers should not retry them in a hot loop.
func (c *Expressions) Parse(src string) (fhirpath.Expression, error) {
	key := xxhash.Sum64String(src)
	if expr, ok := c.lru.Get(key); ok {
		return expr, nil
	}
	expr, err := fhirpath.Parse(src)
	if err != nil {
		return fhirpath.Expression{}, err
	}
	c.lru.Set(key, expr)
	return expr, nil
}

// Stats returns the underlying cache metrics.
func (c *Expressions) Stats() Stats {
	return c.lru.Stats()
}
