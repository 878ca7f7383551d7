// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "time"

// Kind discriminates the three Event variants.
type Kind uint8

const (
	KindLog Kind = iota
	KindMetricEvent
	KindTrace
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetricEvent:
		return "metric"
	case KindTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Tag is one (key, value) pair of a Metric's tag mapping.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an ordered mapping of tag keys to values. Order is preserved
// rather than using a plain map so estimated-size and serialization are
// deterministic.
type TagSet []Tag

func (t TagSet) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Without returns a copy of t with every tag named key removed, used by the
// cardinality limiter's DropTag exceed-policy.
func (t TagSet) Without(key string) TagSet {
	out := make(TagSet, 0, len(t))
	for _, tag := range t {
		if tag.Key != key {
			out = append(out, tag)
		}
	}
	return out
}

func (t TagSet) Clone() TagSet {
	return append(TagSet(nil), t...)
}

// Event is a tagged variant, never a subclass hierarchy: exactly one of the
// Log/Metric/Trace payload fields is meaningful, selected by Kind.
type Event struct {
	Kind Kind

	// Log and Trace share this shape.
	Fields     Value // KindMap
	Metadata   Value // KindMap
	TraceRoute string // non-empty only for Trace: the trace-channel routing key

	// Metric
	MetricName      string
	MetricNamespace string
	MetricTimestamp *time.Time
	Tags            TagSet
	MetricKind      MetricKind
	MetricValue     MetricValue

	Finalizers FinalizerSet
}

// NewLog constructs a Log event with an empty field/metadata map.
func NewLog() *Event {
	return &Event{Kind: KindLog, Fields: Map(), Metadata: Map()}
}

// NewTrace constructs a Trace event with an empty field/metadata map.
func NewTrace() *Event {
	return &Event{Kind: KindTrace, Fields: Map(), Metadata: Map()}
}

// NewMetric constructs a Metric event.
func NewMetric(name string, kind MetricKind, value MetricValue) *Event {
	return &Event{Kind: KindMetricEvent, MetricName: name, MetricKind: kind, MetricValue: value}
}

// Get resolves a Path against a Log/Trace event's Fields tree.
func (e *Event) Get(path Path) (Value, bool) {
	cur := e.Fields
	for _, seg := range path {
		switch seg.Kind {
		case SegmentField:
			v, ok := cur.MapGet(seg.Field)
			if !ok {
				return Null(), false
			}
			cur = v
		case SegmentIndex:
			arr, ok := cur.AsArray()
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return Null(), false
			}
			cur = arr[seg.Index]
		}
	}
	return cur, true
}

// Set writes value at path within a Log/Trace event's Fields tree, creating
// intermediate maps as needed. Array segments require the array to already
// exist with sufficient length (arrays are not auto-extended, since path
// segments don't carry enough intent to know the desired length).
func (e *Event) Set(path Path, value Value) {
	e.Fields = setPath(e.Fields, path, value)
}

func setPath(cur Value, path Path, value Value) Value {
	if len(path) == 0 {
		return value
	}
	seg := path[0]
	switch seg.Kind {
	case SegmentField:
		entries, _ := cur.AsMap()
		for i, entry := range entries {
			if entry.Key == seg.Field {
				entries[i].Value = setPath(entry.Value, path[1:], value)
				return Value{kind: KindMap, m: entries}
			}
		}
		child := setPath(Null(), path[1:], value)
		return Value{kind: KindMap, m: append(entries, MapEntry{Key: seg.Field, Value: child})}
	case SegmentIndex:
		arr, _ := cur.AsArray()
		if seg.Index >= 0 && seg.Index < len(arr) {
			arr[seg.Index] = setPath(arr[seg.Index], path[1:], value)
		}
		return Value{kind: KindArray, array: arr}
	default:
		return cur
	}
}

// Merge folds other into e: fields/metadata maps are shallow-combined
// (other's keys win on conflict), and merging two events merges their
// finalizer sets.
func (e *Event) Merge(other *Event) {
	if other == nil {
		return
	}
	e.Fields = mergeMaps(e.Fields, other.Fields)
	e.Metadata = mergeMaps(e.Metadata, other.Metadata)
	e.Finalizers.Merge(&other.Finalizers)
}

func mergeMaps(a, b Value) Value {
	entries, _ := a.AsMap()
	bEntries, ok := b.AsMap()
	if !ok {
		return a
	}
	out := append([]MapEntry(nil), entries...)
	for _, be := range bEntries {
		found := false
		for i := range out {
			if out[i].Key == be.Key {
				out[i].Value = be.Value
				found = true
				break
			}
		}
		if !found {
			out = append(out, be)
		}
	}
	return Value{kind: KindMap, m: out}
}

// Clone deep-copies an event. Finalizers are intentionally NOT cloned (a
// clone does not get a second vote on delivery status); call AttachFinalizer
// explicitly if the clone needs its own.
func (e *Event) Clone() *Event {
	clone := *e
	clone.Fields = e.Fields.Clone()
	clone.Metadata = e.Metadata.Clone()
	clone.Tags = e.Tags.Clone()
	clone.Finalizers = FinalizerSet{}
	return &clone
}

// AttachFinalizer adds f to the event's finalizer set.
func (e *Event) AttachFinalizer(f *Finalizer) {
	e.Finalizers.Add(f)
}

// TakeFinalizers returns and clears the event's finalizers.
func (e *Event) TakeFinalizers() []*Finalizer {
	return e.Finalizers.Take()
}

// EstimatedJSONSize estimates the encoded JSON size of the event, used by
// batching sinks.
func (e *Event) EstimatedJSONSize() int {
	switch e.Kind {
	case KindLog, KindTrace:
		return e.Fields.EstimatedJSONSize() + e.Metadata.EstimatedJSONSize()
	case KindMetricEvent:
		n := len(e.MetricName) + len(e.MetricNamespace) + 32
		for _, t := range e.Tags {
			n += len(t.Key) + len(t.Value) + 4
		}
		return n
	default:
		return 0
	}
}
