// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowvalet/flowvalet/pkg/event"
)

func nsToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns)).UTC()
}

// nativeJSONEnvelope is the JSON rendition of the full Event envelope. Unlike
// JSONCodec, which only sees the field tree, this codec carries the event
// kind, metadata, and the metric shape, so a decoded event is
// indistinguishable from the one that was encoded.
type nativeJSONEnvelope struct {
	Kind     string          `json:"kind"`
	Fields   json.RawMessage `json:"fields,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`

	TraceRoute string `json:"trace_route,omitempty"`

	Metric *nativeJSONMetric `json:"metric,omitempty"`
}

type nativeJSONMetric struct {
	Name      string             `json:"name"`
	Namespace string             `json:"namespace,omitempty"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
	Tags      map[string]string  `json:"tags,omitempty"`
	TagOrder  []string           `json:"tag_order,omitempty"`
	Kind      string             `json:"metric_kind"`
	Value     json.RawMessage    `json:"value"`
}

// NativeJSONCodec is the JSON sibling of NativeCodec: the same envelope,
// encoded as a JSON document instead of a protowire message. Timestamps use
// RFC 3339 with nanoseconds so precision survives the round trip.
type NativeJSONCodec struct{}

func NewNativeJSONCodec() *NativeJSONCodec { return &NativeJSONCodec{} }

func (c *NativeJSONCodec) Encode(e *event.Event) ([]byte, error) {
	env := nativeJSONEnvelope{Kind: e.Kind.String(), TraceRoute: e.TraceRoute}
	switch e.Kind {
	case event.KindLog, event.KindTrace:
		fields, err := json.Marshal(valueToAny(e.Fields))
		if err != nil {
			return nil, fmt.Errorf("codec/native_json: %w", err)
		}
		metadata, err := json.Marshal(valueToAny(e.Metadata))
		if err != nil {
			return nil, fmt.Errorf("codec/native_json: %w", err)
		}
		env.Fields = fields
		env.Metadata = metadata
	case event.KindMetricEvent:
		m := &nativeJSONMetric{
			Name:      e.MetricName,
			Namespace: e.MetricNamespace,
			Timestamp: e.MetricTimestamp,
			Kind:      metricKindName(e.MetricKind),
		}
		if len(e.Tags) > 0 {
			m.Tags = make(map[string]string, len(e.Tags))
			m.TagOrder = make([]string, 0, len(e.Tags))
			for _, t := range e.Tags {
				m.Tags[t.Key] = t.Value
				m.TagOrder = append(m.TagOrder, t.Key)
			}
		}
		// The metric value is carried as the native binary encoding wrapped
		// in a JSON string; re-describing all seven value shapes in JSON
		// would duplicate the protowire schema for no caller benefit (the
		// sketch variant has no faithful JSON form at all).
		raw, err := json.Marshal(encodeMetricValue(e.MetricValue))
		if err != nil {
			return nil, fmt.Errorf("codec/native_json: %w", err)
		}
		m.Value = raw
		env.Metric = m
	}
	return json.Marshal(env)
}

func (c *NativeJSONCodec) Decode(frame []byte) ([]*event.Event, error) {
	var env nativeJSONEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("codec/native_json: %w", err)
	}
	e := &event.Event{TraceRoute: env.TraceRoute}
	switch env.Kind {
	case "log":
		e.Kind = event.KindLog
	case "trace":
		e.Kind = event.KindTrace
	case "metric":
		e.Kind = event.KindMetricEvent
	default:
		return nil, fmt.Errorf("codec/native_json: unknown event kind %q", env.Kind)
	}

	switch e.Kind {
	case event.KindLog, event.KindTrace:
		e.Fields = event.Map()
		e.Metadata = event.Map()
		if len(env.Fields) > 0 {
			var v any
			if err := json.Unmarshal(env.Fields, &v); err != nil {
				return nil, fmt.Errorf("codec/native_json: %w", err)
			}
			e.Fields = anyToValue(v)
		}
		if len(env.Metadata) > 0 {
			var v any
			if err := json.Unmarshal(env.Metadata, &v); err != nil {
				return nil, fmt.Errorf("codec/native_json: %w", err)
			}
			e.Metadata = anyToValue(v)
		}
	case event.KindMetricEvent:
		if env.Metric == nil {
			return nil, fmt.Errorf("codec/native_json: metric event without metric body")
		}
		e.MetricName = env.Metric.Name
		e.MetricNamespace = env.Metric.Namespace
		e.MetricTimestamp = env.Metric.Timestamp
		for _, key := range env.Metric.TagOrder {
			e.Tags = append(e.Tags, event.Tag{Key: key, Value: env.Metric.Tags[key]})
		}
		switch env.Metric.Kind {
		case "incremental":
			e.MetricKind = event.Incremental
		default:
			e.MetricKind = event.Absolute
		}
		var raw []byte
		if err := json.Unmarshal(env.Metric.Value, &raw); err != nil {
			return nil, fmt.Errorf("codec/native_json: %w", err)
		}
		mv, err := decodeMetricValue(raw)
		if err != nil {
			return nil, fmt.Errorf("codec/native_json: %w", err)
		}
		e.MetricValue = mv
	}
	return []*event.Event{e}, nil
}

func metricKindName(k event.MetricKind) string {
	if k == event.Incremental {
		return "incremental"
	}
	return "absolute"
}
