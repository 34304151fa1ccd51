// Package cache provides an in-memory TTL cache with lazy expiry,
// get-or-compute semantics, and an optional LRU capacity bound.
//
// Entries expire passively: an entry past its deadline is treated as a
// miss on the next read and removed then. Compute failures are never
// stored, so a transient upstream error does not poison the cache.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	key      Key
	value    any
	expireAt time.Time
	elem     *list.Element
}

// Stats describes the cache contents at a point in time. Expired counts
// entries past their deadline that have not yet been evicted by a read.
type Stats struct {
	Total   int `json:"total_entries"`
	Live    int `json:"live_entries"`
	Expired int `json:"expired_entries"`
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the cache size; the least recently used entry is
	// evicted when the bound is exceeded. Zero means unbounded.
	MaxEntries int

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// Cache is a TTL cache safe for concurrent use. Concurrent misses on the
// same key share a single compute call.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List
	max     int
	now     func() time.Time
	group   singleflight.Group
}

// New creates an empty cache.
func New(opts Options) *Cache {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[Key]*entry),
		lru:     list.New(),
		max:     opts.MaxEntries,
		now:     now,
	}
}

// Get returns the cached value for key, or ok=false on a miss. A hit
// refreshes the key's LRU position.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key Key) (any, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expireAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Set stores value under key for ttl. An existing entry is overwritten;
// on concurrent writers the last one wins.
func (c *Cache) Set(key Key, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache) setLocked(key Key, value any, ttl time.Duration) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expireAt = c.now().Add(ttl)
		c.lru.MoveToFront(e.elem)
		return
	}
	e := &entry{key: key, value: value, expireAt: c.now().Add(ttl)}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e

	if c.max > 0 && len(c.entries) > c.max {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*entry))
		}
	}
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	return ok
}

// Purge removes every entry and returns how many were dropped.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[Key]*entry)
	c.lru.Init()
	return n
}

// Stats reports entry counts without evicting anything.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Total: len(c.entries)}
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expireAt) {
			s.Live++
		} else {
			s.Expired++
		}
	}
	return s
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
}

// flightResult carries the computed value together with whether it was
// served from the cache, so callers queued behind a flight still report
// hits accurately.
type flightResult struct {
	value any
	hit   bool
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. hit reports whether the value came from the cache. Compute
// errors propagate to the caller and leave the cache unchanged.
// Concurrent misses on the same key share one compute call.
func (c *Cache) GetOrCompute(key Key, ttl time.Duration, compute func() (any, error)) (value any, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	res, err, _ := c.group.Do(string(key), func() (any, error) {
		return c.fill(key, ttl, compute)
	})
	if err != nil {
		return nil, false, err
	}
	fr := res.(flightResult)
	return fr.value, fr.hit, nil
}

func (c *Cache) fill(key Key, ttl time.Duration, compute func() (any, error)) (flightResult, error) {
	// A concurrent caller may have finished computing while we queued.
	if v, ok := c.Get(key); ok {
		return flightResult{value: v, hit: true}, nil
	}
	v, err := compute()
	if err != nil {
		return flightResult{}, err
	}
	c.Set(key, v, ttl)
	return flightResult{value: v}, nil
}

// GetOrCompute is the typed wrapper over Cache.GetOrCompute for callers
// that know the value type stored under key.
func GetOrCompute[V any](c *Cache, key Key, ttl time.Duration, compute func() (V, error)) (V, bool, error) {
	v, hit, err := c.GetOrCompute(key, ttl, func() (any, error) {
		return compute()
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v.(V), hit, nil
}
