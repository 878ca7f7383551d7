// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

// upperTransform is a minimal function-flavour transform for graph tests: it
// uppercases the "message" field.
type upperTransform struct{}

func (upperTransform) InputType() DataType  { return Logs }
func (upperTransform) OutputType() DataType { return Logs }

func (upperTransform) TransformOne(e *event.Event) *event.Event {
	v, ok := e.Get(event.Path{event.Field("message")})
	if !ok {
		return e
	}
	b, _ := v.AsBytes()
	up := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		up[i] = c
	}
	e.Set(event.Path{event.Field("message")}, event.Bytes(up))
	return e
}

// dropAllTransform drops everything, for checking Dropped resolution.
type dropAllTransform struct{}

func (dropAllTransform) InputType() DataType                      { return AllTypes }
func (dropAllTransform) OutputType() DataType                     { return AllTypes }
func (dropAllTransform) TransformOne(e *event.Event) *event.Event { return nil }

func logBatch(t *testing.T, messages ...string) *event.Array {
	t.Helper()
	events := make([]*event.Event, len(messages))
	for i, m := range messages {
		e := event.NewLog()
		e.Set(event.Path{event.Field("message")}, event.BytesString(m))
		events[i] = e
	}
	a, err := event.NewArray(event.KindLog, events...)
	require.NoError(t, err)
	return a
}

func testRegistry(src *TestSource, sink Sink, tr any) *Registry {
	r := NewRegistry()
	r.Sources["test_source"] = func(_ json.RawMessage, _ *metrics.Registry) (Source, error) {
		return src, nil
	}
	r.Sinks["test_sink"] = func(_ json.RawMessage, _ *metrics.Registry) (Sink, error) {
		return sink, nil
	}
	if tr != nil {
		r.Transforms["under_test"] = func(_ json.RawMessage, _ *metrics.Registry) (any, error) {
			return tr, nil
		}
	}
	return r
}

func linearConfig() *Config {
	return &Config{
		Sources:    map[string]ComponentConfig{"in": {Kind: "test_source"}},
		Transforms: map[string]ComponentConfig{"tr": {Kind: "under_test", Inputs: []string{"in"}}},
		Sinks:      map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"tr"}}},
	}
}

func TestGraphRunsLinearPipeline(t *testing.T) {
	src := &TestSource{Type: Logs, Batches: []*event.Array{logBatch(t, "one", "two")}}
	sink := &TestSink{Type: Logs}
	g := New(testRegistry(src, sink, upperTransform{}), metrics.NewRegistry())

	require.NoError(t, g.Start(linearConfig()))
	// Stop cancels the sources first, so wait until the batch has arrived.
	require.Eventually(t, func() bool { return len(sink.Events()) == 2 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))

	events := sink.Events()
	require.Len(t, events, 2)
	msg, _ := events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "ONE", msg.String())
	msg, _ = events[1].Get(event.Path{event.Field("message")})
	assert.Equal(t, "TWO", msg.String())
}

func TestGraphDropsResolveFinalizers(t *testing.T) {
	batch := logBatch(t, "discard-me")
	resolved := make(chan event.Status, 1)
	f := event.NewFinalizer()
	f.OnResolve(func(st event.Status) { resolved <- st })
	batch.Events[0].AttachFinalizer(f)

	src := &TestSource{Type: Logs, Batches: []*event.Array{batch}}
	// dropAllTransform emits AllTypes, so the sink must accept all of them
	// for the edge to type-check.
	sink := &TestSink{Type: AllTypes}
	g := New(testRegistry(src, sink, dropAllTransform{}), metrics.NewRegistry())
	require.NoError(t, g.Start(linearConfig()))

	select {
	case st := <-resolved:
		assert.Equal(t, event.Dropped, st)
	case <-time.After(5 * time.Second):
		t.Fatal("dropped event's finalizer was not resolved")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	assert.Empty(t, sink.Events())
}

func TestGraphBuildRejects(t *testing.T) {
	src := &TestSource{Type: Logs}
	sink := &TestSink{Type: Logs}
	registry := testRegistry(src, sink, upperTransform{})
	m := metrics.NewRegistry()

	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{
			"unknown kind",
			&Config{
				Sources: map[string]ComponentConfig{"in": {Kind: "no_such_source"}},
				Sinks:   map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"in"}}},
			},
			"unknown kind",
		},
		{
			"dangling input",
			&Config{
				Sources: map[string]ComponentConfig{"in": {Kind: "test_source"}},
				Sinks:   map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"ghost"}}},
			},
			"does not exist",
		},
		{
			"no sources",
			&Config{
				Sources: map[string]ComponentConfig{},
				Sinks:   map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"in"}}},
			},
			"no sources",
		},
		{
			"sink without inputs",
			&Config{
				Sources: map[string]ComponentConfig{"in": {Kind: "test_source"}},
				Sinks:   map[string]ComponentConfig{"out": {Kind: "test_sink"}},
			},
			"no inputs",
		},
		{
			"transform cycle",
			&Config{
				Sources: map[string]ComponentConfig{"in": {Kind: "test_source"}},
				Transforms: map[string]ComponentConfig{
					"a": {Kind: "under_test", Inputs: []string{"b"}},
					"b": {Kind: "under_test", Inputs: []string{"a"}},
				},
				Sinks: map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"a"}}},
			},
			"cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildNodes(tt.cfg, registry, m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGraphTypeCheckRejectsMismatchedEdge(t *testing.T) {
	// A Logs-only source feeding a Metrics-only sink must be rejected.
	src := &TestSource{Type: Logs}
	sink := &TestSink{Type: Metrics}
	registry := testRegistry(src, sink, nil)

	cfg := &Config{
		Sources: map[string]ComponentConfig{"in": {Kind: "test_source"}},
		Sinks:   map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"in"}}},
	}
	_, err := buildNodes(cfg, registry, metrics.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts only")
}

func TestGraphReloadFailsClosed(t *testing.T) {
	src := &TestSource{Type: Logs, Batches: []*event.Array{logBatch(t, "steady")}}
	sink := &TestSink{Type: Logs}
	g := New(testRegistry(src, sink, upperTransform{}), metrics.NewRegistry())
	require.NoError(t, g.Start(linearConfig()))
	defer g.ForceStop()

	// The new config references a missing producer: validation fails and
	// the old graph keeps running.
	broken := linearConfig()
	broken.Sinks = map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"gone"}}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := g.Reload(ctx, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeping old graph")

	g.mu.Lock()
	running := g.current != nil
	g.mu.Unlock()
	assert.True(t, running, "old graph must survive a rejected reload")
}

func TestGraphFanOutClonesForSecondConsumer(t *testing.T) {
	src := &TestSource{Type: Logs, Batches: []*event.Array{logBatch(t, "shared")}}
	sinkA := &TestSink{Type: Logs}
	sinkB := &TestSink{Type: Logs}

	r := NewRegistry()
	r.Sources["test_source"] = func(_ json.RawMessage, _ *metrics.Registry) (Source, error) {
		return src, nil
	}
	r.Sinks["sink_a"] = func(_ json.RawMessage, _ *metrics.Registry) (Sink, error) { return sinkA, nil }
	r.Sinks["sink_b"] = func(_ json.RawMessage, _ *metrics.Registry) (Sink, error) { return sinkB, nil }

	cfg := &Config{
		Sources: map[string]ComponentConfig{"in": {Kind: "test_source"}},
		Sinks: map[string]ComponentConfig{
			"a": {Kind: "sink_a", Inputs: []string{"in"}},
			"b": {Kind: "sink_b", Inputs: []string{"in"}},
		},
	}
	g := New(r, metrics.NewRegistry())
	require.NoError(t, g.Start(cfg))
	// Stop cancels the sources first, so wait until both sinks have the batch.
	require.Eventually(t, func() bool {
		return len(sinkA.Events()) == 1 && len(sinkB.Events()) == 1
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))

	require.Len(t, sinkA.Events(), 1)
	require.Len(t, sinkB.Events(), 1)
	msgA, _ := sinkA.Events()[0].Get(event.Path{event.Field("message")})
	msgB, _ := sinkB.Events()[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "shared", msgA.String())
	assert.Equal(t, "shared", msgB.String())
}

func TestHarnessConfigWiresTransformUnderTest(t *testing.T) {
	registry := NewRegistry()
	registry.Transforms["upper"] = func(_ json.RawMessage, _ *metrics.Registry) (any, error) {
		return upperTransform{}, nil
	}

	src := &TestSource{Type: Logs, Batches: []*event.Array{logBatch(t, "probe")}}
	cfg, sink, harness := HarnessConfig(registry, "upper", ComponentConfig{}, src)

	g := New(harness, metrics.NewRegistry())
	require.NoError(t, g.Start(cfg))
	// Stop cancels the sources first, so wait until the batch has arrived.
	require.Eventually(t, func() bool { return len(sink.Events()) == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))

	events := sink.Events()
	require.Len(t, events, 1)
	msg, _ := events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "PROBE", msg.String())
}
