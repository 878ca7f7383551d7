// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"sort"

	"github.com/flowvalet/flowvalet/pkg/metrics"
)

type nodeRole uint8

const (
	roleSource nodeRole = iota
	roleTransform
	roleSink
)

// node is one instantiated component plus its resolved graph position.
type node struct {
	name   string
	role   nodeRole
	cfg    ComponentConfig
	inputs []inputRef

	source Source
	tr     any // one of the three transform flavours
	sink   Sink
}

// outputTypes returns the node's named outputs and their emitted types.
func (n *node) outputTypes() (map[string]DataType, error) {
	switch n.role {
	case roleSource:
		return map[string]DataType{DefaultOutput: n.source.OutputType()}, nil
	case roleTransform:
		switch t := n.tr.(type) {
		case FunctionTransform:
			return map[string]DataType{DefaultOutput: t.OutputType()}, nil
		case SyncTransform:
			return namedOutputTypes(t.Outputs(), t.OutputType()), nil
		case TaskTransform:
			return namedOutputTypes(t.Outputs(), t.OutputType()), nil
		default:
			return nil, fmt.Errorf("pipeline: %s: builder returned %T, not a transform flavour", n.name, n.tr)
		}
	default:
		return nil, nil
	}
}

func namedOutputTypes(names []string, typ DataType) map[string]DataType {
	if len(names) == 0 {
		return map[string]DataType{DefaultOutput: typ}
	}
	out := make(map[string]DataType, len(names))
	for _, name := range names {
		out[name] = typ
	}
	return out
}

func (n *node) inputType() DataType {
	switch n.role {
	case roleTransform:
		switch t := n.tr.(type) {
		case FunctionTransform:
			return t.InputType()
		case SyncTransform:
			return t.InputType()
		case TaskTransform:
			return t.InputType()
		}
	case roleSink:
		return n.sink.InputType()
	}
	return 0
}

// buildNodes instantiates every component in cfg through the registry,
// resolves references, type-checks every edge, and rejects cycles. Nothing
// is started; a non-nil error means the config can never run and the caller
// (initial build or reload) must not touch any running graph.
func buildNodes(cfg *Config, registry *Registry, reg *metrics.Registry) (map[string]*node, error) {
	if err := duplicateNameError(cfg.names()); err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("pipeline: config has no sources")
	}
	if len(cfg.Sinks) == 0 {
		return nil, fmt.Errorf("pipeline: config has no sinks")
	}

	nodes := make(map[string]*node)

	for name, cc := range cfg.Sources {
		build, ok := registry.Sources[cc.Kind]
		if !ok {
			return nil, fmt.Errorf("pipeline: source %q: unknown kind %q", name, cc.Kind)
		}
		src, err := build(cc.Options, reg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: source %q: %w", name, err)
		}
		if len(cc.Inputs) != 0 {
			return nil, fmt.Errorf("pipeline: source %q must not declare inputs", name)
		}
		nodes[name] = &node{name: name, role: roleSource, cfg: cc, source: src}
	}

	for name, cc := range cfg.Transforms {
		build, ok := registry.Transforms[cc.Kind]
		if !ok {
			return nil, fmt.Errorf("pipeline: transform %q: unknown kind %q", name, cc.Kind)
		}
		tr, err := build(cc.Options, reg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: transform %q: %w", name, err)
		}
		n := &node{name: name, role: roleTransform, cfg: cc, tr: tr}
		if _, err := n.outputTypes(); err != nil {
			return nil, err
		}
		if len(cc.Inputs) == 0 {
			return nil, fmt.Errorf("pipeline: transform %q has no inputs", name)
		}
		for _, in := range cc.Inputs {
			n.inputs = append(n.inputs, parseInputRef(in))
		}
		nodes[name] = n
	}

	for name, cc := range cfg.Sinks {
		build, ok := registry.Sinks[cc.Kind]
		if !ok {
			return nil, fmt.Errorf("pipeline: sink %q: unknown kind %q", name, cc.Kind)
		}
		sink, err := build(cc.Options, reg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: sink %q: %w", name, err)
		}
		if len(cc.Inputs) == 0 {
			return nil, fmt.Errorf("pipeline: sink %q has no inputs", name)
		}
		n := &node{name: name, role: roleSink, cfg: cc, sink: sink}
		for _, in := range cc.Inputs {
			n.inputs = append(n.inputs, parseInputRef(in))
		}
		nodes[name] = n
	}

	// Resolve and type-check every edge.
	for _, n := range nodes {
		for _, ref := range n.inputs {
			producer, ok := nodes[ref.component]
			if !ok {
				return nil, fmt.Errorf("pipeline: %s: input %q does not exist", n.name, ref)
			}
			if producer.role == roleSink {
				return nil, fmt.Errorf("pipeline: %s: input %q is a sink; sinks have no outputs", n.name, ref)
			}
			outputs, err := producer.outputTypes()
			if err != nil {
				return nil, err
			}
			outType, ok := outputs[ref.output]
			if !ok {
				return nil, fmt.Errorf("pipeline: %s: producer %q has no output named %q", n.name, ref.component, ref.output)
			}
			if !n.inputType().Accepts(outType) {
				return nil, fmt.Errorf("pipeline: edge %s -> %s: producer emits [%s] but consumer accepts only [%s]",
					ref, n.name, outType, n.inputType())
			}
		}
	}

	if err := rejectCycles(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// rejectCycles runs a depth-first search over the transform subgraph. Only
// transforms can participate in a cycle (sources have no inputs, sinks no
// outputs).
func rejectCycles(nodes map[string]*node) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("pipeline: cycle detected through %q", name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, ref := range nodes[name].inputs {
			if err := visit(ref.component); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
