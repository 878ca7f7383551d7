// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvalet/flowvalet/pkg/event"
)

func TestLineProtocolDecode(t *testing.T) {
	input := "cpu,host=node01,cluster=alpha value=0.75,idle=0.2 1700000000000000000\n"

	c := NewLineProtocolCodec()
	events, err := c.Decode([]byte(input))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, event.KindMetricEvent, first.Kind)
	assert.Equal(t, "cpu", first.MetricName)
	host, ok := first.Tags.Get("host")
	require.True(t, ok)
	assert.Equal(t, "node01", host)
	g, ok := first.MetricValue.Gauge()
	require.True(t, ok)
	assert.Equal(t, 0.75, g)
	require.NotNil(t, first.MetricTimestamp)
	assert.Equal(t, time.Unix(0, 1700000000000000000).UTC(), *first.MetricTimestamp)

	// Non-"value" fields get the measurement as a prefix.
	assert.Equal(t, "cpu_idle", events[1].MetricName)
}

func TestLineProtocolDecodeMultipleLines(t *testing.T) {
	input := "mem,host=a value=1\nmem,host=b value=2\n"

	c := NewLineProtocolCodec()
	events, err := c.Decode([]byte(input))
	require.NoError(t, err)
	require.Len(t, events, 2)
	hostA, _ := events[0].Tags.Get("host")
	hostB, _ := events[1].Tags.Get("host")
	assert.Equal(t, "a", hostA)
	assert.Equal(t, "b", hostB)
}

func TestLineProtocolEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000).UTC()
	in := event.NewMetric("load", event.Absolute, event.GaugeValue(1.25))
	in.Tags = event.TagSet{{Key: "cluster", Value: "alpha"}, {Key: "host", Value: "n1"}}
	in.MetricTimestamp = &ts

	c := NewLineProtocolCodec()
	b, err := c.Encode(in)
	require.NoError(t, err)

	events, err := c.Decode(b)
	require.NoError(t, err)
	require.Len(t, events, 1)
	out := events[0]
	assert.Equal(t, "load", out.MetricName)
	assert.Equal(t, in.Tags, out.Tags)
	g, _ := out.MetricValue.Gauge()
	assert.Equal(t, 1.25, g)
	require.NotNil(t, out.MetricTimestamp)
	assert.True(t, ts.Equal(*out.MetricTimestamp))
}

func TestLineProtocolEncodeRejectsLogs(t *testing.T) {
	c := NewLineProtocolCodec()
	_, err := c.Encode(event.NewLog())
	require.Error(t, err)
}
