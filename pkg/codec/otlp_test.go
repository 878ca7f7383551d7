// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// buildSpan assembles a minimal OTLP Span: trace_id (1, 16 bytes), span_id
// (2, 8 bytes), name (5).
func buildSpan(name string) []byte {
	var b []byte
	traceID := make([]byte, 16)
	traceID[15] = 1
	spanID := make([]byte, 8)
	spanID[7] = 2
	b = appendTagAndBytes(b, 1, traceID)
	b = appendTagAndBytes(b, 2, spanID)
	b = appendTagAndBytes(b, 5, []byte(name))
	return b
}

// buildLogRecord assembles a minimal OTLP LogRecord: time_unix_nano
// (1, fixed64) and severity_text (3).
func buildLogRecord(ns uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, ns)
	b = appendTagAndBytes(b, 3, []byte("INFO"))
	return b
}

// wrapRequest nests records into scope and resource entries and the records
// into an export request: request{1: resource{2: scope{2: record}}}.
func wrapRequest(records ...[]byte) []byte {
	var scope []byte
	for _, r := range records {
		scope = appendTagAndBytes(scope, 2, r)
	}
	var resource []byte
	resource = appendTagAndBytes(resource, 2, scope)
	var req []byte
	req = appendTagAndBytes(req, 1, resource)
	return req
}

func TestOTLPTraceRoundTrip(t *testing.T) {
	frame := wrapRequest(buildSpan("GET /"), buildSpan("GET /health"))

	c := NewOTLPCodec(OTLPTraces)
	events, err := c.Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindTrace, events[0].Kind)

	out, err := c.Encode(events[0])
	require.NoError(t, err)
	assert.Equal(t, frame, out, "re-encoded request must be byte-identical")
}

func TestOTLPSignalPriority(t *testing.T) {
	// A valid logs request fed to a traces-only decoder must fail, and the
	// error names the signals that were tried.
	frame := wrapRequest(buildLogRecord(1700000000000000000))

	c := NewOTLPCodec(OTLPTraces)
	_, err := c.Decode(frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traces")
}

func TestOTLPLogsDecodeAsLogEvents(t *testing.T) {
	frame := wrapRequest(buildLogRecord(1700000000000000000))

	c := NewOTLPCodec(OTLPLogs, OTLPMetrics, OTLPTraces)
	events, err := c.Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Logs stay Log events with the OTLP layout preserved verbatim.
	assert.Equal(t, event.KindLog, events[0].Kind)
	v, ok := events[0].Get(event.Path{event.Field("resourceLogs")})
	require.True(t, ok)
	entries, ok := v.AsArray()
	require.True(t, ok)
	assert.Len(t, entries, 1)

	out, err := c.Encode(events[0])
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestOTLPSignalOrderMatters(t *testing.T) {
	frame := wrapRequest(buildSpan("op"))

	// A traces frame fed to a logs-first decoder must not match logs: the
	// span's trace_id field has the wrong wire type for a LogRecord's
	// time_unix_nano.
	c := NewOTLPCodec(OTLPLogs, OTLPTraces)
	events, err := c.Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindTrace, events[0].Kind)
}

func TestOTLPGarbageFails(t *testing.T) {
	c := NewOTLPCodec(OTLPLogs, OTLPMetrics, OTLPTraces)
	_, err := c.Decode([]byte("not protobuf at all"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs, metrics, traces")
}
