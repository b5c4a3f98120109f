// Package cache provides the small set of locked caches shared across the
// parsing pipeline: a generic capacity-capped memo map and a string interner.
//
// The eviction policy is deliberately "none": once a cache reaches capacity it
// stops admitting new entries instead of evicting old ones. Lookups of keys
// already present keep working, misses on a full cache fall through to the
// caller's create function without storing the result.
package cache

import "sync"

// DefaultCapacity bounds a cache when the caller does not pick a size.
const DefaultCapacity = 100_000

// Map is a mutex-guarded memoization map with atomic get-or-create semantics:
// concurrent callers racing on the same key observe exactly one created value.
type Map[K comparable, V any] struct {
	mu  sync.Mutex
	m   map[K]V
	cap int
}

// NewMap returns a Map admitting at most capacity entries. A capacity of zero
// or less means DefaultCapacity.
func NewMap[K comparable, V any](capacity int) *Map[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Map[K, V]{m: make(map[K]V), cap: capacity}
}

// Get returns the cached value for key, if present.
func (c *Map[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

// Put stores value under key unless the cache is full.
func (c *Map[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok && len(c.m) >= c.cap {
		return
	}
	c.m[key] = value
}

// GetOrCreate returns the value for key, calling create under the lock when
// the key is absent. Only one creation happens per key; every concurrent
// caller gets the same value. create must not re-enter the cache.
func (c *Map[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.m[key]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	if len(c.m) < c.cap {
		c.m[key] = v
	}
	return v, nil
}

// Len returns the number of cached entries.
func (c *Map[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Clear drops every entry.
func (c *Map[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[K]V)
}

// Interner de-duplicates strings so that the many repeated selector and type
// strings in a large image share backing storage.
type Interner struct {
	strings *Map[string, string]
}

// NewInterner returns an interner holding at most capacity distinct strings.
func NewInterner(capacity int) *Interner {
	return &Interner{strings: NewMap[string, string](capacity)}
}

// Intern returns a canonical copy of s.
func (i *Interner) Intern(s string) string {
	v, _ := i.strings.GetOrCreate(s, func() (string, error) { return s, nil })
	return v
}

// Clear drops all interned strings.
func (i *Interner) Clear() { i.strings.Clear() }
