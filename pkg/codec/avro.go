// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"sort"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// AvroCodec encodes/decodes one event per frame using a caller-supplied Avro
// schema (schema-in-config: the schema travels in the pipeline configuration,
// not in the data stream, so frames carry the binary datum only, with no OCF
// container or schema fingerprint).
type AvroCodec struct {
	codec *goavro.Codec
}

// NewAvroCodec compiles schema (Avro schema JSON) into a codec.
func NewAvroCodec(schema string) (*AvroCodec, error) {
	c, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("codec/avro: invalid schema: %w", err)
	}
	return &AvroCodec{codec: c}, nil
}

func (c *AvroCodec) Decode(frame []byte) ([]*event.Event, error) {
	native, rest, err := c.codec.NativeFromBinary(frame)
	if err != nil {
		return nil, fmt.Errorf("codec/avro: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec/avro: %d trailing bytes after datum", len(rest))
	}
	e := event.NewLog()
	e.Fields = avroNativeToValue(native)
	return []*event.Event{e}, nil
}

func (c *AvroCodec) Encode(e *event.Event) ([]byte, error) {
	native := valueToAvroNative(e.Fields)
	out, err := c.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("codec/avro: %w", err)
	}
	return out, nil
}

// avroNativeToValue maps goavro's native Go representation onto the Value sum
// type. goavro represents unions as single-entry maps keyed by the branch
// type name; those wrappers are unwrapped transparently since the event model
// has no union notion of its own.
func avroNativeToValue(v any) event.Value {
	switch x := v.(type) {
	case nil:
		return event.Null()
	case bool:
		return event.Boolean(x)
	case int32:
		return event.Integer(int64(x))
	case int64:
		return event.Integer(x)
	case float32:
		return event.Float(float64(x))
	case float64:
		return event.Float(x)
	case string:
		return event.BytesString(x)
	case []byte:
		return event.Bytes(x)
	case time.Time:
		return event.Timestamp(x)
	case []any:
		out := make([]event.Value, len(x))
		for i, e := range x {
			out[i] = avroNativeToValue(e)
		}
		return event.ArrayValue(out...)
	case map[string]any:
		if len(x) == 1 {
			for key, inner := range x {
				if isAvroUnionBranch(key) {
					return avroNativeToValue(inner)
				}
			}
		}
		entries := make([]event.MapEntry, 0, len(x))
		for _, k := range sortedKeys(x) {
			entries = append(entries, event.MapEntry{Key: k, Value: avroNativeToValue(x[k])})
		}
		return event.Map(entries...)
	default:
		return event.Null()
	}
}

// isAvroUnionBranch recognizes the primitive branch names goavro uses when
// wrapping a union value. Record-typed branches keep their record name and
// are not unwrapped, which is the safe direction: a named record map stays a
// map.
func isAvroUnionBranch(name string) bool {
	switch name {
	case "null", "boolean", "int", "long", "float", "double", "bytes", "string":
		return true
	}
	return false
}

func valueToAvroNative(v event.Value) any {
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
			out[i] = valueToAvroNative(e)
		}
		return out
	case event.KindMap:
		entries, _ := v.AsMap()
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			out[e.Key] = valueToAvroNative(e.Value)
		}
		return out
	default:
		return nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
