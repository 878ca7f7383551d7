// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package remap is a predicate filter transform: a boolean expression is
// evaluated against each event's fields and events evaluating false are
// dropped. It is intentionally a single-purpose predicate evaluator, not a
// general event-rewriting language.
package remap

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Config configures one filter transform.
type Config struct {
	// Condition is the boolean expression; undefined variables resolve to
	// nil rather than failing compilation, since log schemas are open.
	Condition string `json:"condition"`
}

// Transform evaluates the compiled condition per event.
type Transform struct {
	program *vm.Program

	warnOnce sync.Once
}

// New compiles cfg.Condition.
func New(cfg Config) (*Transform, error) {
	if cfg.Condition == "" {
		return nil, fmt.Errorf("remap: condition must not be empty")
	}
	program, err := expr.Compile(cfg.Condition, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("remap: compiling condition: %w", err)
	}
	return &Transform{program: program}, nil
}

// Builder adapts New to the pipeline registry signature.
func Builder(options json.RawMessage, _ *metrics.Registry) (any, error) {
	var cfg Config
	if len(options) > 0 {
		if err := json.Unmarshal(options, &cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg)
}

func (t *Transform) InputType() pipeline.DataType  { return pipeline.AllTypes }
func (t *Transform) OutputType() pipeline.DataType { return pipeline.AllTypes }

// TransformOne keeps events whose condition evaluates true. An evaluation
// error keeps the event: a broken predicate must degrade to passing data
// through, never to silently discarding it.
func (t *Transform) TransformOne(e *event.Event) *event.Event {
	out, err := expr.Run(t.program, envFor(e))
	if err != nil {
		t.warnOnce.Do(func() {
			log.Warnf("remap: condition evaluation failed, passing events through: %v", err)
		})
		return e
	}
	if keep, ok := out.(bool); ok && keep {
		return e
	}
	return nil
}

// envFor flattens an event into the expression environment. Metric events
// expose name/namespace/tags; logs and traces expose their field tree.
func envFor(e *event.Event) map[string]any {
	env := make(map[string]any)
	switch e.Kind {
	case event.KindMetricEvent:
		env["name"] = e.MetricName
		env["namespace"] = e.MetricNamespace
		tags := make(map[string]any, len(e.Tags))
		for _, t := range e.Tags {
			tags[t.Key] = t.Value
		}
		env["tags"] = tags
	default:
		entries, _ := e.Fields.AsMap()
		for _, entry := range entries {
			env[entry.Key] = valueToEnv(entry.Value)
		}
	}
	return env
}

func valueToEnv(v event.Value) any {
	switch v.Kind() {
	case event.KindBoolean:
		b, _ := v.AsBoolean()
		return b
	case event.KindInteger:
		i, _ := v.AsInteger()
		return i
	case event.KindFloat:
		f, _ := v.AsFloat()
		return f
	case event.KindBytes:
		b, _ := v.AsBytes()
		return string(b)
	case event.KindTimestamp:
		t, _ := v.AsTimestamp()
		return t
	case event.KindArray:
		arr, _ := v.AsArray()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = valueToEnv(e)
		}
		return out
	case event.KindMap:
		entries, _ := v.AsMap()
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			out[e.Key] = valueToEnv(e.Value)
		}
		return out
	default:
		return nil
	}
}
