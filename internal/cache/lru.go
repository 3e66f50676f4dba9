// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package cache provides the bounded in-memory structures used for
// deduplication and response caching. The LRU tracker backs the aggregation
// engine's idempotency ledger: strictly size-bounded, optionally
// time-bounded, always O(1).
package cache

import (
	"sync"
	"time"
)

// entry is a node in the doubly-linked recency list.
type entry struct {
	key       string
	prev      *entry
	next      *entry
	expiresAt time.Time // zero when the cache has no TTL
}

// LRU is a thread-safe least-recently-used key tracker.
//
// It combines a hashmap for O(1) lookup with a doubly-linked list for O(1)
// recency updates and eviction. When capacity is reached the least recently
// seen key is evicted; with a non-zero TTL, entries also expire lazily on
// access.
type LRU struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*entry

	// head.next is the most recently used, tail.prev the least.
	head *entry
	tail *entry

	hits      int64
	misses    int64
	evictions int64
}

// NewLRU creates an LRU tracker with the given capacity. A ttl of zero
// disables time-based expiry; entries then leave only by eviction.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 10000
	}

	c := &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Contains reports whether key is tracked (and not expired) without
// refreshing its recency.
func (c *LRU) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return false
	}
	if c.expired(e) {
		c.remove(e)
		c.misses++
		return false
	}
	c.hits++
	return true
}

// CheckAndAdd atomically records key and reports whether it was already
// tracked. This is the dedup primitive: the first caller gets false and the
// key is remembered; repeat callers get true.
func (c *LRU) CheckAndAdd(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		if !c.expired(e) {
			c.moveToFront(e)
			c.hits++
			return true
		}
		c.remove(e)
	}
	c.misses++
	c.insert(key)
	return false
}

// Add records key, evicting the least recently seen entry when full.
func (c *LRU) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.moveToFront(e)
		if c.ttl > 0 {
			e.expiresAt = time.Now().Add(c.ttl)
		}
		return
	}
	c.insert(key)
}

// Len returns the number of tracked keys, including not-yet-reaped expired
// entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity returns the configured maximum size.
func (c *LRU) Capacity() int {
	return c.capacity
}

// Clear drops all tracked keys. For the idempotency ledger this is always
// safe: it raises the duplicate pass-through rate but never breaks
// correctness under at-least-once delivery.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns hit, miss, and eviction counts.
func (c *LRU) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// insert adds a new key at the front, evicting if needed. Lock must be held.
func (c *LRU) insert(key string) {
	if len(c.items) >= c.capacity {
		if lru := c.tail.prev; lru != c.head {
			c.remove(lru)
			c.evictions++
		}
	}

	e := &entry{key: key}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = e
	c.pushFront(e)
}

// expired reports whether e has outlived its TTL. Lock must be held.
func (c *LRU) expired(e *entry) bool {
	return c.ttl > 0 && time.Now().After(e.expiresAt)
}

// remove unlinks e and deletes it from the map. Lock must be held.
func (c *LRU) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

// pushFront links e directly after the head sentinel. Lock must be held.
func (c *LRU) pushFront(e *entry) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}

// moveToFront refreshes e's recency. Lock must be held.
func (c *LRU) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}
