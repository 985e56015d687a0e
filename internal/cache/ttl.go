// Package cache provides the bounded, time-limited cache used in front of
// the video search service.
package cache

import (
	"sync"
	"time"
)

// Stats holds cache statistics.
type Stats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	TTL         time.Duration `json:"-"`
	TTLSeconds  float64       `json:"ttl_seconds"`
	Hits        uint64        `json:"hits"`
	Misses      uint64        `json:"misses"`
	Evictions   uint64        `json:"evictions"`
	Expirations uint64        `json:"expirations"`
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTLCache is a fixed-capacity map whose entries expire ttl after they were
// written. Expired entries are dropped lazily when read. When full, the
// entry with the oldest insertion time is evicted, regardless of how
// recently it was read.
//
// A single mutex guards the whole structure; all methods are safe for
// concurrent use.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache holding at most maxSize entries for ttl each.
func New[K comparable, V any](maxSize int, ttl time.Duration, opts ...Option) *TTLCache[K, V] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &TTLCache[K, V]{
		entries: make(map[K]entry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     o.now,
	}
}

// Get returns the value stored under key. An entry older than the TTL is
// removed and reported as a miss. Reads never extend an entry's lifetime.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set stores value under key with the current time. Inserting a new key
// into a full cache first evicts the oldest-inserted entry.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry[V]{
		value:      value,
		insertedAt: c.now(),
	}
}

// evictOldest removes the entry with the smallest insertion time (must hold lock).
func (c *TTLCache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)

	for k, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.insertedAt, true
		}
	}

	if found {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Delete removes key if present.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry. Counters are kept.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V], c.maxSize)
}

// Len returns the number of physically stored entries, expired or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured capacity.
func (c *TTLCache[K, V]) MaxSize() int {
	return c.maxSize
}

// TTL returns the configured entry lifetime.
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Stats returns cache statistics.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		TTL:         c.ttl,
		TTLSeconds:  c.ttl.Seconds(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}
