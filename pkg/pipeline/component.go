// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline builds and runs the component graph: sources, transforms,
// and sinks wired through the channel fabric, with type-checked edges,
// fail-closed reload, and two-phase shutdown.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

// DataType is a bitmask of the event kinds a component emits or accepts.
// Edge type checking requires the upstream's emitted set to be a subset of
// the downstream's accepted set, so a Metric-only source can never feed a
// Log-only sink.
type DataType uint8

const (
	Logs DataType = 1 << iota
	Metrics
	Traces

	AllTypes = Logs | Metrics | Traces
)

// Accepts reports whether every type in other is included in t.
func (t DataType) Accepts(other DataType) bool {
	return other&^t == 0
}

func (t DataType) String() string {
	s := ""
	if t&Logs != 0 {
		s += "logs,"
	}
	if t&Metrics != 0 {
		s += "metrics,"
	}
	if t&Traces != 0 {
		s += "traces,"
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}

// KindType maps one event kind onto its DataType bit.
func KindType(k event.Kind) DataType {
	switch k {
	case event.KindMetricEvent:
		return Metrics
	case event.KindTrace:
		return Traces
	default:
		return Logs
	}
}

// Source produces events. Run must not return until ctx is cancelled or the
// source's external input ends; it owns out for its lifetime but must not
// close it (the graph does, during drain).
type Source interface {
	OutputType() DataType
	Run(ctx context.Context, out channel.Sender) error
}

// FunctionTransform is the cheapest transform flavour: pure, one event in,
// at most one event out (nil drops the event — the executor resolves the
// dropped event's finalizers). It runs inline on the goroutine that pulled
// the event, with no suspension points of its own.
type FunctionTransform interface {
	InputType() DataType
	OutputType() DataType
	TransformOne(e *event.Event) *event.Event
}

// SyncTransform is the one-in-many-out flavour: one input event may push any
// number of events to any named output. Pushing to an output name the graph
// has not wired is a configuration-time error, never a runtime surprise:
// Outputs declares the full name set up front.
type SyncTransform interface {
	InputType() DataType
	OutputType() DataType
	Outputs() []string
	Transform(e *event.Event, push func(output string, e *event.Event))
}

// TaskTransform is the fully asynchronous flavour: it owns its input and
// output ends and runs as its own task until the input closes.
type TaskTransform interface {
	InputType() DataType
	OutputType() DataType
	Outputs() []string
	Run(ctx context.Context, in channel.Receiver, outs map[string]channel.Sender) error
}

// Sink consumes events and is the component responsible for resolving
// finalizers with the destination's verdict. Run returns when in is closed
// and drained.
type Sink interface {
	InputType() DataType
	Run(ctx context.Context, in channel.Receiver) error
}

// DefaultOutput is the output name used when a consumer references a
// component without an explicit output suffix.
const DefaultOutput = ""

// Builders instantiate components from their configuration value. The
// registry of builders is supplied by the caller (cmd wiring), keeping this
// package free of dependencies on any concrete integration.
type (
	SourceBuilder    func(options json.RawMessage, reg *metrics.Registry) (Source, error)
	TransformBuilder func(options json.RawMessage, reg *metrics.Registry) (any, error)
	SinkBuilder      func(options json.RawMessage, reg *metrics.Registry) (Sink, error)
)

// Registry maps configuration kind names to builders.
type Registry struct {
	Sources    map[string]SourceBuilder
	Transforms map[string]TransformBuilder
	Sinks      map[string]SinkBuilder
}

// NewRegistry returns an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{
		Sources:    make(map[string]SourceBuilder),
		Transforms: make(map[string]TransformBuilder),
		Sinks:      make(map[string]SinkBuilder),
	}
}
