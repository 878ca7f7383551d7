// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cardinality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

func metricWith(tags ...event.Tag) *event.Event {
	e := event.NewMetric("m", event.Absolute, event.GaugeValue(1))
	e.Tags = tags
	return e
}

func TestCardinalityDropTag(t *testing.T) {
	tr := New(Config{ValueLimit: 2, Policy: DropTag}, metrics.NewRegistry())

	// First two distinct t1 values pass unchanged.
	for _, v := range []string{"v1", "v2"} {
		out := tr.TransformOne(metricWith(
			event.Tag{Key: "t1", Value: v},
			event.Tag{Key: "t2", Value: "stable"},
		))
		require.NotNil(t, out)
		got, ok := out.Tags.Get("t1")
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	// The third distinct t1 value exceeds the limit: t1 is stripped, t2
	// stays.
	out := tr.TransformOne(metricWith(
		event.Tag{Key: "t1", Value: "v3"},
		event.Tag{Key: "t2", Value: "stable"},
	))
	require.NotNil(t, out)
	_, ok := out.Tags.Get("t1")
	assert.False(t, ok)
	v2, ok := out.Tags.Get("t2")
	require.True(t, ok)
	assert.Equal(t, "stable", v2)
}

func TestCardinalityDropEvent(t *testing.T) {
	tr := New(Config{ValueLimit: 1, Policy: DropEvent}, metrics.NewRegistry())

	require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "t", Value: "a"})))
	assert.Nil(t, tr.TransformOne(metricWith(event.Tag{Key: "t", Value: "b"})))
	// An already-admitted value still passes.
	require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "t", Value: "a"})))
}

func TestCardinalityPerKeyIndependence(t *testing.T) {
	tr := New(Config{ValueLimit: 1, Policy: DropTag}, metrics.NewRegistry())

	require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "a", Value: "1"})))
	// Key a is exhausted; key b must still admit its first value.
	out := tr.TransformOne(metricWith(
		event.Tag{Key: "a", Value: "2"},
		event.Tag{Key: "b", Value: "1"},
	))
	require.NotNil(t, out)
	_, ok := out.Tags.Get("a")
	assert.False(t, ok, "key a over limit")
	_, ok = out.Tags.Get("b")
	assert.True(t, ok, "key b unaffected by key a's exhaustion")
}

func TestCardinalityHashSetExactness(t *testing.T) {
	const limit = 50
	tr := New(Config{ValueLimit: limit, Mode: StorageHashSet, Policy: DropEvent}, metrics.NewRegistry())

	// Exactly the first N distinct values are admitted...
	for i := 0; i < limit; i++ {
		require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "k", Value: fmt.Sprintf("v%d", i)})))
	}
	// ...every one of them re-admits...
	for i := 0; i < limit; i++ {
		require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "k", Value: fmt.Sprintf("v%d", i)})))
	}
	// ...and value N+1 is rejected.
	assert.Nil(t, tr.TransformOne(metricWith(event.Tag{Key: "k", Value: "overflow"})))
}

func TestCardinalityBloomAdmitsFirstN(t *testing.T) {
	const limit = 100
	tr := New(Config{ValueLimit: limit, Mode: StorageBloom, Policy: DropEvent, FalsePositiveRate: 1e-5}, metrics.NewRegistry())

	// At least the first N distinct values are admitted (false positives in
	// the filter can only admit early, never reject).
	admitted := 0
	for i := 0; i < limit; i++ {
		if tr.TransformOne(metricWith(event.Tag{Key: "k", Value: fmt.Sprintf("v%d", i)})) != nil {
			admitted++
		}
	}
	assert.Equal(t, limit, admitted)

	// Previously admitted values keep passing.
	require.NotNil(t, tr.TransformOne(metricWith(event.Tag{Key: "k", Value: "v0"})))
}

func TestCardinalityMetricsOnly(t *testing.T) {
	tr := New(Config{ValueLimit: 1}, metrics.NewRegistry())
	assert.NotZero(t, tr.InputType())
	assert.Equal(t, tr.InputType(), tr.OutputType())
}
