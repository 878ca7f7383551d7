// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dedupe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

func logWith(fields map[string]event.Value) *event.Event {
	e := event.NewLog()
	for k, v := range fields {
		e.Set(event.Path{event.Field(k)}, v)
	}
	return e
}

func TestDedupeMatchMode(t *testing.T) {
	tr := New(Config{Mode: ModeMatch, Fields: []string{"matched"}}, metrics.NewRegistry())

	first := logWith(map[string]event.Value{
		"matched":   event.BytesString("a"),
		"unmatched": event.BytesString("x"),
	})
	second := logWith(map[string]event.Value{
		"matched":   event.BytesString("a"),
		"unmatched": event.BytesString("y"),
	})

	assert.NotNil(t, tr.TransformOne(first))
	assert.Nil(t, tr.TransformOne(second), "identical matched field makes the event a duplicate regardless of unmatched fields")

	third := logWith(map[string]event.Value{"matched": event.BytesString("b")})
	assert.NotNil(t, tr.TransformOne(third))
}

func TestDedupeIgnoreMode(t *testing.T) {
	tr := New(Config{Mode: ModeIgnore, Fields: []string{"timestamp"}}, metrics.NewRegistry())

	first := logWith(map[string]event.Value{
		"message":   event.BytesString("same"),
		"timestamp": event.Integer(1),
	})
	second := logWith(map[string]event.Value{
		"message":   event.BytesString("same"),
		"timestamp": event.Integer(2),
	})
	assert.NotNil(t, tr.TransformOne(first))
	assert.Nil(t, tr.TransformOne(second), "ignored fields do not participate in identity")

	changed := logWith(map[string]event.Value{
		"message":   event.BytesString("different"),
		"timestamp": event.Integer(3),
	})
	assert.NotNil(t, tr.TransformOne(changed))
}

func TestDedupeTypeDiscriminant(t *testing.T) {
	tr := New(Config{Mode: ModeMatch, Fields: []string{"id"}}, metrics.NewRegistry())

	asBytes := logWith(map[string]event.Value{"id": event.BytesString("123")})
	asInteger := logWith(map[string]event.Value{"id": event.Integer(123)})

	assert.NotNil(t, tr.TransformOne(asBytes))
	assert.NotNil(t, tr.TransformOne(asInteger), `bytes "123" and integer 123 are distinct identities`)
	assert.Nil(t, tr.TransformOne(asBytes.Clone()))
}

func TestDedupeMissingFieldDistinctFromEmpty(t *testing.T) {
	tr := New(Config{Mode: ModeMatch, Fields: []string{"key"}}, metrics.NewRegistry())

	missing := event.NewLog()
	empty := logWith(map[string]event.Value{"key": event.BytesString("")})

	assert.NotNil(t, tr.TransformOne(missing))
	assert.NotNil(t, tr.TransformOne(empty), "an absent field is not the same identity as an empty one")
}

func TestDedupeEvictionForgets(t *testing.T) {
	tr := New(Config{Mode: ModeMatch, Fields: []string{"k"}, CacheSize: 2}, metrics.NewRegistry())

	a := logWith(map[string]event.Value{"k": event.BytesString("a")})
	assert.NotNil(t, tr.TransformOne(a))

	// Two fresh identities push "a" out of the capacity-2 cache.
	for _, s := range []string{"b", "c"} {
		e := logWith(map[string]event.Value{"k": event.BytesString(s)})
		assert.NotNil(t, tr.TransformOne(e))
	}

	assert.NotNil(t, tr.TransformOne(a.Clone()), "an evicted identity is treated as new")
}

func TestDedupeCapacityBounded(t *testing.T) {
	tr := New(Config{Mode: ModeMatch, Fields: []string{"k"}, CacheSize: 100}, metrics.NewRegistry())
	for i := 0; i < 1000; i++ {
		e := logWith(map[string]event.Value{"k": event.BytesString(fmt.Sprintf("v%d", i))})
		require.NotNil(t, tr.TransformOne(e))
	}
	// The oldest identities have long been evicted; re-seen they pass.
	old := logWith(map[string]event.Value{"k": event.BytesString("v0")})
	assert.NotNil(t, tr.TransformOne(old))
	// The newest are still cached and detected.
	recent := logWith(map[string]event.Value{"k": event.BytesString("v999")})
	assert.Nil(t, tr.TransformOne(recent))
}
