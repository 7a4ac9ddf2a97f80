// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package frame

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionCacheGetMissOnEmptyCache(t *testing.T) {
	c := NewDecisionCache(4)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestDecisionCachePutThenGet(t *testing.T) {
	c := NewDecisionCache(4)
	c.Put(1, filterDecision{keep: true, label: "a.py:f:1"})
	d, ok := c.Get(1)
	assert.True(t, ok)
	assert.True(t, d.keep)
	assert.Equal(t, "a.py:f:1", d.label)
}

func TestDecisionCacheEvictsOldestOnceFull(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put(1, filterDecision{label: "one"})
	c.Put(2, filterDecision{label: "two"})
	c.Put(3, filterDecision{label: "three"})

	_, ok := c.Get(1)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(2)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestDecisionCacheZeroCapacityDefaults(t *testing.T) {
	c := NewDecisionCache(0)
	c.Put(1, filterDecision{label: "a"})
	_, ok := c.Get(1)
	assert.True(t, ok)
}

func TestDecisionCacheOverwriteDoesNotDuplicateOrderEntry(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put(1, filterDecision{label: "a"})
	c.Put(1, filterDecision{label: "a-updated"})
	c.Put(2, filterDecision{label: "b"})
	c.Put(3, filterDecision{label: "c"})

	// 1 was re-inserted without growing order, so it is now the oldest and
	// should be evicted first, not retained past its real insertion slot.
	_, ok := c.Get(1)
	assert.False(t, ok)
	d, ok := c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", d.label)
}

func TestDecisionCacheConcurrentAccessDoesNotCorruptState(t *testing.T) {
	c := NewDecisionCache(64)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(key uintptr) {
			defer wg.Done()
			c.Put(key, filterDecision{keep: true, label: "x"})
			c.Get(key)
		}(uintptr(i))
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
