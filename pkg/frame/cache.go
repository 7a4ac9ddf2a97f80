// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package frame

import "sync"

// filterDecision memoizes whether a frame (identified by its host.Frame
// CodeID) survives the filter pipeline, and the label component that was
// computed for it. The cache does not track which filter configuration a
// decision was made under, so one cache serves one Filters value. Keyed by
// a uintptr code id rather than a string, so pkg/lrucache's generic
// comparable-key signature does not fit cleanly here - see DESIGN.md for
// the standard-library justification.
type filterDecision struct {
	keep  bool
	label string
}

// DecisionCache bounds the number of memoized per-frame filter decisions so
// a long-running target with many distinct code objects cannot grow the
// cache without bound. Its only caller, the async sampler's Tick, never
// uses it from two goroutines at once thanks to the reentrancy guard; every
// method still takes mu, so it is safe for concurrent use, and tests
// exercise it from multiple goroutines to confirm that.
type DecisionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uintptr]filterDecision
	order    []uintptr
}

// NewDecisionCache returns a cache that holds at most capacity entries,
// evicting the oldest insertion once full (a plain FIFO ring, not a true
// LRU - recency tracking would need a doubly-linked list for an operation
// this cheap to recompute on miss, which is not worth the extra pointers).
func NewDecisionCache(capacity int) *DecisionCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &DecisionCache{
		capacity: capacity,
		entries:  make(map[uintptr]filterDecision, capacity),
		order:    make([]uintptr, 0, capacity),
	}
}

// Get returns the memoized decision for key, if any.
func (c *DecisionCache) Get(key uintptr) (filterDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	return d, ok
}

// Put stores a decision for key, evicting the oldest entry if the cache is
// already at capacity.
func (c *DecisionCache) Put(key uintptr, d filterDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = d
}

// Len reports the number of memoized entries, for tests.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
