// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

// TestSource feeds a fixed batch list into the graph and then ends its
// input, letting the drain phase run. It is the synthesized source inserted
// before a transform under test.
type TestSource struct {
	Type    DataType
	Batches []*event.Array
}

func (s *TestSource) OutputType() DataType { return s.Type }

func (s *TestSource) Run(ctx context.Context, out channel.Sender) error {
	for _, a := range s.Batches {
		if err := out.Send(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// TestSink collects everything it receives and resolves finalizers
// Delivered, the synthesized sink inserted after a transform under test.
type TestSink struct {
	Type DataType

	mu      sync.Mutex
	batches []*event.Array
}

func (s *TestSink) InputType() DataType {
	if s.Type == 0 {
		return AllTypes
	}
	return s.Type
}

func (s *TestSink) Run(ctx context.Context, in channel.Receiver) error {
	for {
		a, err := in.Recv(ctx)
		if err == channel.ErrClosed {
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.batches = append(s.batches, a)
		s.mu.Unlock()
		a.ResolveAll(event.Delivered)
	}
}

// Events flattens every collected batch, in arrival order.
func (s *TestSink) Events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Event
	for _, a := range s.batches {
		out = append(out, a.Events...)
	}
	return out
}

// HarnessConfig wires a transform under test between a synthesized source
// and sink, preserving the transform's own configuration. The returned sink
// instance is the one the built graph will run, so callers read results from
// it after Stop.
func HarnessConfig(registry *Registry, transformKind string, transformCfg ComponentConfig, src *TestSource) (*Config, *TestSink, *Registry) {
	sink := &TestSink{}

	harness := NewRegistry()
	for k, v := range registry.Transforms {
		harness.Transforms[k] = v
	}
	harness.Sources["test_source"] = func(_ json.RawMessage, _ *metrics.Registry) (Source, error) {
		return src, nil
	}
	harness.Sinks["test_sink"] = func(_ json.RawMessage, _ *metrics.Registry) (Sink, error) {
		return sink, nil
	}

	transformCfg.Kind = transformKind
	transformCfg.Inputs = []string{"in"}
	cfg := &Config{
		Sources:    map[string]ComponentConfig{"in": {Kind: "test_source"}},
		Transforms: map[string]ComponentConfig{"under_test": transformCfg},
		Sinks:      map[string]ComponentConfig{"out": {Kind: "test_sink", Inputs: []string{"under_test"}}},
	}
	return cfg, sink, harness
}
