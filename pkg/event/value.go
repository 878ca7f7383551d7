// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package event defines the internal, codec- and transport-agnostic
// representation that every source, transform, and sink in this router
// operates on: a tagged Event (Log/Metric/Trace), a recursive Value sum
// type, and the Finalizer mechanism used for end-to-end acknowledgement.
package event

import (
	"fmt"
	"time"
)

// ValueKind discriminates the variants of Value. Kept as an explicit tag
// rather than a Go interface type switch on concrete types so that callers
// needing the discriminant (dedupe identity keys, schema checks) don't have
// to re-derive it from a type assertion.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindBytes
	KindTimestamp
	KindArray
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapEntry preserves insertion order for Value's Map variant; a plain Go map
// would lose it, which breaks estimated-JSON-size stability and round-trip
// byte-identity for codecs like GELF.
type MapEntry struct {
	Key   string
	Value Value
}

// Value is a recursive, owned sum type. A zero Value is KindNull.
//
// Numeric comparison is value-typed: Bytes("123") and Integer(123) are
// distinct even though they stringify the same way. Policy transforms (dedupe
// identity, cardinality admission) and schema checks rely on this.
type Value struct {
	kind      ValueKind
	boolean   bool
	integer   int64
	float     float64
	bytes     []byte
	timestamp time.Time
	array     []Value
	m         []MapEntry
}

func Null() Value                  { return Value{kind: KindNull} }
func Boolean(b bool) Value         { return Value{kind: KindBoolean, boolean: b} }
func Integer(i int64) Value        { return Value{kind: KindInteger, integer: i} }
func Bytes(b []byte) Value         { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func BytesString(s string) Value   { return Value{kind: KindBytes, bytes: []byte(s)} }
func Timestamp(t time.Time) Value  { return Value{kind: KindTimestamp, timestamp: t.UTC()} }
func ArrayValue(vs ...Value) Value { return Value{kind: KindArray, array: append([]Value(nil), vs...)} }
func Map(entries ...MapEntry) Value {
	return Value{kind: KindMap, m: append([]MapEntry(nil), entries...)}
}

// Float constructs a Float value. Floats are NaN-free; a NaN input is
// replaced with Null so downstream code never has to special-case NaN
// propagation through codecs that don't support it (JSON in particular).
func Float(f float64) Value {
	if f != f {
		return Null()
	}
	return Value{kind: KindFloat, float: f}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsBoolean() (bool, bool)        { return v.boolean, v.kind == KindBoolean }
func (v Value) AsInteger() (int64, bool)       { return v.integer, v.kind == KindInteger }
func (v Value) AsFloat() (float64, bool)       { return v.float, v.kind == KindFloat }
func (v Value) AsBytes() ([]byte, bool)        { return v.bytes, v.kind == KindBytes }
func (v Value) AsTimestamp() (time.Time, bool) { return v.timestamp, v.kind == KindTimestamp }
func (v Value) AsArray() ([]Value, bool)       { return v.array, v.kind == KindArray }
func (v Value) AsMap() ([]MapEntry, bool)      { return v.m, v.kind == KindMap }

// MapGet looks up a key in a Map value's entries in order. Ordered-by-key
// does not imply sorted; it means stable insertion order.
func (v Value) MapGet(key string) (Value, bool) {
	for _, e := range v.m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Null(), false
}

// Clone deep-copies a Value so mutation of the copy never aliases the
// original, per the data model's ownership rule.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.array))
		for i, e := range v.array {
			out[i] = e.Clone()
		}
		return Value{kind: KindArray, array: out}
	case KindMap:
		out := make([]MapEntry, len(v.m))
		for i, e := range v.m {
			out[i] = MapEntry{Key: e.Key, Value: e.Value.Clone()}
		}
		return Value{kind: KindMap, m: out}
	case KindBytes:
		return Bytes(v.bytes)
	default:
		return v
	}
}

// Equal implements value-typed equality: kind must match exactly, so
// Bytes("123") != Integer(123).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.boolean == other.boolean
	case KindInteger:
		return v.integer == other.integer
	case KindFloat:
		return v.float == other.float
	case KindBytes:
		return string(v.bytes) == string(other.bytes)
	case KindTimestamp:
		return v.timestamp.Equal(other.timestamp)
	case KindArray:
		if len(v.array) != len(other.array) {
			return false
		}
		for i := range v.array {
			if !v.array[i].Equal(other.array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for i := range v.m {
			if v.m[i].Key != other.m[i].Key || !v.m[i].Value.Equal(other.m[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AppendIdentityKey appends a type-tagged encoding of v to dst, suitable for
// use as a dedupe identity-cache key component. The leading kind byte is what
// keeps Bytes("123") and Integer(123) distinct in the cache key even though
// their content bytes would otherwise collide.
func (v Value) AppendIdentityKey(dst []byte) []byte {
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindBoolean:
		if v.boolean {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindInteger:
		dst = appendUint64(dst, uint64(v.integer))
	case KindFloat:
		dst = appendUint64(dst, uint64(int64(v.float*1e9)))
	case KindBytes:
		dst = appendUint64(dst, uint64(len(v.bytes)))
		dst = append(dst, v.bytes...)
	case KindTimestamp:
		dst = appendUint64(dst, uint64(v.timestamp.UnixNano()))
	case KindArray:
		dst = appendUint64(dst, uint64(len(v.array)))
		for _, e := range v.array {
			dst = e.AppendIdentityKey(dst)
		}
	case KindMap:
		dst = appendUint64(dst, uint64(len(v.m)))
		for _, e := range v.m {
			dst = append(dst, byte(len(e.Key)))
			dst = append(dst, e.Key...)
			dst = e.Value.AppendIdentityKey(dst)
		}
	}
	return dst
}

func appendUint64(dst []byte, u uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return append(dst, b[:]...)
}

// EstimatedJSONSize returns a cheap upper-bound estimate of the value's
// encoded JSON size, used by sinks that need to batch by approximate byte
// budget without fully serializing first.
func (v Value) EstimatedJSONSize() int {
	switch v.kind {
	case KindNull:
		return 4
	case KindBoolean:
		return 5
	case KindInteger, KindFloat:
		return 24
	case KindBytes:
		return len(v.bytes) + 2
	case KindTimestamp:
		return len(time.RFC3339Nano) + 2
	case KindArray:
		n := 2
		for _, e := range v.array {
			n += e.EstimatedJSONSize() + 1
		}
		return n
	case KindMap:
		n := 2
		for _, e := range v.m {
			n += len(e.Key) + 3 + e.Value.EstimatedJSONSize() + 1
		}
		return n
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return fmt.Sprintf("%v", v.boolean)
	case KindInteger:
		return fmt.Sprintf("%d", v.integer)
	case KindFloat:
		return fmt.Sprintf("%g", v.float)
	case KindBytes:
		return string(v.bytes)
	case KindTimestamp:
		return v.timestamp.Format(time.RFC3339Nano)
	case KindArray:
		return fmt.Sprintf("%v", v.array)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return ""
	}
}
