// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lrucache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forever = time.Hour

func TestGetComputesOnMiss(t *testing.T) {
	c := New(10)

	calls := 0
	compute := func() (any, time.Duration, int) {
		calls++
		return "computed", forever, 1
	}

	assert.Equal(t, "computed", c.Get("k", compute))
	assert.Equal(t, "computed", c.Get("k", compute))
	assert.Equal(t, 1, calls, "second Get must hit the cache")
}

func TestGetNilComputeIsLookup(t *testing.T) {
	c := New(10)
	assert.Nil(t, c.Get("absent", nil))

	c.Put("present", 42, 1, forever)
	assert.Equal(t, 42, c.Get("present", nil))
}

func TestEvictionIsLRU(t *testing.T) {
	c := New(2)
	c.Put("a", "a", 1, forever)
	c.Put("b", "b", 1, forever)

	// Touch "a" so "b" is the least recently used.
	require.Equal(t, "a", c.Get("a", nil))

	c.Put("c", "c", 1, forever)
	assert.Equal(t, "a", c.Get("a", nil))
	assert.Nil(t, c.Get("b", nil), "least recently used entry is evicted")
	assert.Equal(t, "c", c.Get("c", nil))
	assert.Equal(t, 2, c.Used())
}

func TestSizeBudget(t *testing.T) {
	c := New(10)
	c.Put("big", "big", 8, forever)
	c.Put("small", "small", 2, forever)
	assert.Equal(t, 10, c.Used())

	// One more unit of cost pushes the oldest entry out.
	c.Put("extra", "extra", 1, forever)
	assert.Nil(t, c.Get("big", nil))
	assert.Equal(t, 3, c.Used())
}

func TestExpiry(t *testing.T) {
	c := New(10)
	c.Put("fleeting", 1, 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	assert.Nil(t, c.Get("fleeting", nil))

	// An expired entry recomputes rather than serving the stale value.
	got := c.Get("fleeting", func() (any, time.Duration, int) {
		return 2, forever, 1
	})
	assert.Equal(t, 2, got)
}

func TestDel(t *testing.T) {
	c := New(10)
	c.Put("k", "v", 1, forever)
	assert.True(t, c.Del("k"))
	assert.False(t, c.Del("k"))
	assert.Nil(t, c.Get("k", nil))
	assert.Zero(t, c.Used())
}

func TestKeysSkipsExpired(t *testing.T) {
	c := New(10)
	c.Put("live", 1, 1, forever)
	c.Put("dead", 2, 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	seen := map[string]any{}
	c.Keys(func(key string, value any) { seen[key] = value })
	assert.Equal(t, map[string]any{"live": 1}, seen)
	assert.Equal(t, 1, c.Used(), "expired entries are reclaimed during traversal")
}
