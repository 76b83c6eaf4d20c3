package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/c360/lookupkit/errors"
)

// boundedEntry is one cached value with the time it was last touched.
type boundedEntry[V any] struct {
	key        string
	value      V
	accessedAt time.Time
}

// Bounded evicts least-recently-accessed entries when either the entry
// count exceeds maxSize or an entry has not been accessed for maxDuration.
// A zero bound disables that bound.
//
// The recency list is ordered by last access, front = newest, so both bounds
// evict from the back.
type Bounded[V any] struct {
	mu          sync.Mutex
	maxSize     int
	maxDuration time.Duration
	items       map[string]*list.Element
	order       *list.List
	clock       Clock
	stats       *Statistics
	metrics     *cacheMetrics
	evictFn     EvictCallback[V]
}

func newBoundedCache[V any](maxSize int, maxDuration time.Duration, opts *cacheOptions[V]) (*Bounded[V], error) {
	if maxSize < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "newBoundedCache", "max_size must not be negative")
	}
	if maxDuration < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "newBoundedCache", "max_duration must not be negative")
	}

	var metrics *cacheMetrics
	if opts.registry != nil {
		var err error
		metrics, err = newCacheMetrics(opts.registry, opts.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newBoundedCache", "metrics registration")
		}
	}

	return &Bounded[V]{
		maxSize:     maxSize,
		maxDuration: maxDuration,
		items:       make(map[string]*list.Element),
		order:       list.New(),
		clock:       opts.clock,
		stats:       NewStatistics(),
		metrics:     metrics,
		evictFn:     opts.onEvict,
	}, nil
}

// Get returns the cached value and refreshes its access time and recency.
// An entry older than maxDuration is evicted and reported as a miss.
func (c *Bounded[V]) Get(key string) (V, bool) {
	var zero V
	now := c.clock()

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		c.stats.Miss()
		c.metrics.recordMiss()
		return zero, false
	}

	entry := element.Value.(*boundedEntry[V])
	if c.isStale(entry, now) {
		c.removeElement(element)
		size := len(c.items)
		c.mu.Unlock()

		c.recordEvictions([]*boundedEntry[V]{entry}, size)
		c.stats.Miss()
		c.metrics.recordMiss()
		return zero, false
	}

	entry.accessedAt = now
	c.order.MoveToFront(element)
	value := entry.value
	c.mu.Unlock()

	c.stats.Hit()
	c.metrics.recordHit()
	return value, true
}

// Set inserts or overwrites key, then evicts oldest-accessed entries while the
// cache is over maxSize, then evicts entries untouched for longer than
// maxDuration.
func (c *Bounded[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	now := c.clock()

	c.mu.Lock()
	created := true
	if element, exists := c.items[key]; exists {
		entry := element.Value.(*boundedEntry[V])
		entry.value = value
		entry.accessedAt = now
		c.order.MoveToFront(element)
		created = false
	} else {
		c.items[key] = c.order.PushFront(&boundedEntry[V]{key: key, value: value, accessedAt: now})
	}
	evicted := c.evictLocked(now)
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.metrics.recordSet()
	c.recordEvictions(evicted, size)
	return created, nil
}

// EvictExpired runs the duration check without inserting anything and returns
// the number of evicted entries.
func (c *Bounded[V]) EvictExpired() int {
	now := c.clock()

	c.mu.Lock()
	evicted := c.evictLocked(now)
	size := len(c.items)
	c.mu.Unlock()

	c.recordEvictions(evicted, size)
	return len(evicted)
}

// Delete removes an entry by key.
func (c *Bounded[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	c.removeElement(element)
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	c.metrics.recordDelete()
	c.metrics.updateSize(size)
	return true, nil
}

// Clear removes all entries from the cache.
func (c *Bounded[V]) Clear() error {
	c.mu.Lock()
	var evicted []*boundedEntry[V]
	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evicted = append(evicted, element.Value.(*boundedEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	c.metrics.updateSize(0)
	for _, entry := range evicted {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

// Size returns the current number of entries in the cache.
func (c *Bounded[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all keys, most recently accessed first.
func (c *Bounded[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*boundedEntry[V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *Bounded[V]) Stats() *Statistics {
	return c.stats
}

// Close is a no-op; the cache runs no background goroutines.
func (c *Bounded[V]) Close() error {
	return nil
}

func (c *Bounded[V]) isStale(entry *boundedEntry[V], now time.Time) bool {
	return c.maxDuration > 0 && now.Sub(entry.accessedAt) > c.maxDuration
}

// evictLocked applies both bounds. Must be called with mu held.
func (c *Bounded[V]) evictLocked(now time.Time) []*boundedEntry[V] {
	var evicted []*boundedEntry[V]

	for c.maxSize > 0 && len(c.items) > c.maxSize {
		element := c.order.Back()
		evicted = append(evicted, element.Value.(*boundedEntry[V]))
		c.removeElement(element)
	}

	for element := c.order.Back(); element != nil; element = c.order.Back() {
		entry := element.Value.(*boundedEntry[V])
		if !c.isStale(entry, now) {
			break
		}
		evicted = append(evicted, entry)
		c.removeElement(element)
	}

	return evicted
}

// removeElement removes an element from both the list and map.
// Must be called with mu held.
func (c *Bounded[V]) removeElement(element *list.Element) {
	entry := element.Value.(*boundedEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
}

// recordEvictions updates counters and runs callbacks outside the lock.
func (c *Bounded[V]) recordEvictions(evicted []*boundedEntry[V], size int) {
	c.stats.UpdateSize(int64(size))
	c.metrics.updateSize(size)
	for _, entry := range evicted {
		c.stats.Eviction()
		c.metrics.recordEviction()
		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
	}
}
