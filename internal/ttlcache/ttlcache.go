// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package ttlcache provides a map whose entries self-destruct after a TTL.
// Eviction is timer-driven, not read-driven: each Put arms a one-shot timer
// that removes the entry when it fires. A write to an existing key cancels
// the old timer, so a stale timer can never evict a newer entry.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value V
	gen   uint64
	timer *time.Timer
}

// Cache is a TTL cache keyed by K. The zero value is not usable; construct
// with New. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	gen     uint64
	closed  bool
}

// New creates an empty Cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// Put stores value under key for ttl. An existing entry is overwritten and
// its pending eviction timer cancelled.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if old, ok := c.entries[key]; ok {
		old.timer.Stop()
	}

	c.gen++
	gen := c.gen
	e := &entry[V]{value: value, gen: gen}
	// The timer callback captures the generation written here. Timer.Stop
	// does not guarantee the callback will not run, so evict re-checks the
	// generation under the lock before deleting.
	e.timer = time.AfterFunc(ttl, func() {
		c.evict(key, gen)
	})
	c.entries[key] = e
}

// TryGet returns the value stored under key. Expiry is timer-driven, so a
// read has no side effects.
func (c *Cache[K, V]) TryGet(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Remove invalidates key explicitly, cancelling its eviction timer.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.timer.Stop()
		delete(c.entries, key)
	}
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels all pending timers and drops all entries. Puts after Close
// are no-ops.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, k)
	}
	c.closed = true
}

// evict is the timer callback. It removes the entry only if the captured
// generation still matches the live one; a timer racing a newer Put for the
// same key is a no-op.
func (c *Cache[K, V]) evict(key K, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		return
	}
	delete(c.entries, key)
}
