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

func sampleLog() *event.Event {
	e := event.NewLog()
	e.Set(event.Path{event.Field("message")}, event.BytesString("hello"))
	e.Set(event.Path{event.Field("count")}, event.Integer(-42))
	e.Set(event.Path{event.Field("ratio")}, event.Float(0.125))
	e.Set(event.Path{event.Field("ok")}, event.Boolean(true))
	e.Set(event.Path{event.Field("none")}, event.Null())
	e.Set(event.Path{event.Field("when")}, event.Timestamp(time.Date(2024, 5, 17, 10, 4, 5, 123456789, time.UTC)))
	e.Set(event.Path{event.Field("nested"), event.Field("inner")}, event.ArrayValue(
		event.Integer(1), event.BytesString("two"), event.Map(
			event.MapEntry{Key: "deep", Value: event.Boolean(false)},
		),
	))
	return e
}

func TestNativeLogRoundTrip(t *testing.T) {
	c := NewNativeCodec()
	in := sampleLog()

	b, err := c.Encode(in)
	require.NoError(t, err)
	events, err := c.Decode(b)
	require.NoError(t, err)
	require.Len(t, events, 1)

	out := events[0]
	assert.Equal(t, event.KindLog, out.Kind)
	assert.True(t, in.Fields.Equal(out.Fields), "field tree must survive the round trip, timestamps to the nanosecond")
	assert.True(t, in.Metadata.Equal(out.Metadata))
}

func TestNativeTraceRoundTrip(t *testing.T) {
	c := NewNativeCodec()
	in := event.NewTrace()
	in.TraceRoute = "spans"
	in.Set(event.Path{event.Field("span_id")}, event.BytesString("abcd1234"))

	b, err := c.Encode(in)
	require.NoError(t, err)
	events, err := c.Decode(b)
	require.NoError(t, err)

	out := events[0]
	assert.Equal(t, event.KindTrace, out.Kind)
	assert.Equal(t, "spans", out.TraceRoute)
	assert.True(t, in.Fields.Equal(out.Fields))
}

func TestNativeMetricRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 17, 10, 4, 5, 987654321, time.UTC)

	tests := []struct {
		name  string
		value event.MetricValue
	}{
		{"counter", event.CounterValue(17.5)},
		{"gauge", event.GaugeValue(-3)},
		{"distribution", event.DistributionValue(event.StatisticHistogram,
			event.Sample{Value: 1, Rate: 2}, event.Sample{Value: 2.5, Rate: 1})},
		{"histogram", event.AggregatedHistogramValue(10, 55.5,
			event.HistogramBucket{UpperLimit: 1, Count: 4},
			event.HistogramBucket{UpperLimit: 10, Count: 6})},
		{"summary", event.AggregatedSummaryValue(3, 9.9,
			event.QuantileValue{Quantile: 0.5, Value: 2},
			event.QuantileValue{Quantile: 0.99, Value: 8})},
	}

	c := NewNativeCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := event.NewMetric("requests_total", event.Incremental, tt.value)
			in.MetricNamespace = "api"
			in.MetricTimestamp = &ts
			in.Tags = event.TagSet{{Key: "region", Value: "eu"}, {Key: "az", Value: "eu-1b"}}

			b, err := c.Encode(in)
			require.NoError(t, err)
			events, err := c.Decode(b)
			require.NoError(t, err)
			out := events[0]

			assert.Equal(t, event.KindMetricEvent, out.Kind)
			assert.Equal(t, in.MetricName, out.MetricName)
			assert.Equal(t, in.MetricNamespace, out.MetricNamespace)
			require.NotNil(t, out.MetricTimestamp)
			assert.True(t, in.MetricTimestamp.Equal(*out.MetricTimestamp))
			assert.Equal(t, in.Tags, out.Tags)
			assert.Equal(t, in.MetricKind, out.MetricKind)
			assert.Equal(t, tt.value, out.MetricValue)
		})
	}
}

func TestNativeSetMetricRoundTrip(t *testing.T) {
	c := NewNativeCodec()
	in := event.NewMetric("uniques", event.Absolute, event.SetValue("a", "b", "c"))

	b, err := c.Encode(in)
	require.NoError(t, err)
	events, err := c.Decode(b)
	require.NoError(t, err)

	members, ok := events[0].MetricValue.Set()
	require.True(t, ok)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, members)
}

func TestNativeJSONRoundTrip(t *testing.T) {
	c := NewNativeJSONCodec()
	in := sampleLog()

	b, err := c.Encode(in)
	require.NoError(t, err)
	events, err := c.Decode(b)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindLog, events[0].Kind)

	msg, ok := events[0].Get(event.Path{event.Field("message")})
	require.True(t, ok)
	assert.Equal(t, "hello", msg.String())
}
