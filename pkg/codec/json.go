// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// JSONCodec decodes one frame as a single arbitrary JSON document into a Log
// event's field tree, and encodes a Log/Trace event back to JSON. Unlike
// NativeJSONCodec (pkg/codec/nativejson.go) it has no notion of the internal
// Event envelope: every JSON key becomes a top-level field.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Decode(frame []byte) ([]*event.Event, error) {
	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return nil, fmt.Errorf("codec/json: %w", err)
	}
	e := event.NewLog()
	e.Fields = anyToValue(v)
	return []*event.Event{e}, nil
}

func (c *JSONCodec) Encode(e *event.Event) ([]byte, error) {
	return json.Marshal(valueToAny(e.Fields))
}

func anyToValue(v any) event.Value {
	switch x := v.(type) {
	case nil:
		return event.Null()
	case bool:
		return event.Boolean(x)
	case float64:
		if x == float64(int64(x)) {
			return event.Integer(int64(x))
		}
		return event.Float(x)
	case string:
		return event.BytesString(x)
	case []any:
		out := make([]event.Value, len(x))
		for i, e := range x {
			out[i] = anyToValue(e)
		}
		return event.ArrayValue(out...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]event.MapEntry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, event.MapEntry{Key: k, Value: anyToValue(x[k])})
		}
		return event.Map(entries...)
	default:
		return event.Null()
	}
}

func valueToAny(v event.Value) any {
	switch v.Kind() {
	case event.KindNull:
		return nil
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
			out[i] = valueToAny(e)
		}
		return out
	case event.KindMap:
		entries, _ := v.AsMap()
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			out[e.Key] = valueToAny(e.Value)
		}
		return out
	default:
		return nil
	}
}
