// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import "google.golang.org/protobuf/encoding/protowire"

// protoField is one decoded (field number, wire type, value) tuple from
// a flat, non-recursive scan of a protobuf message. For BytesType, Bytes
// holds the inner bytes (not re-encoded); for VarintType, Fixed32Type and
// Fixed64Type, Varint holds the numeric value.
type protoField struct {
	Number protowire.Number
	Type   protowire.Type
	Bytes  []byte // valid when Type == BytesType
	Varint uint64 // valid when Type is VarintType, Fixed32Type or Fixed64Type
}

// scanFields performs one flat (non-recursive) pass over a protobuf-encoded
// message, returning every field encountered in order. It never descends
// into submessages itself — callers recurse by calling scanFields again on a
// BytesType field's payload, which is exactly the shape OTLP's
// resource/scope/record nesting needs without
// requiring generated message types.
func scanFields(b []byte) []protoField {
	var out []protoField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return out
			}
			out = append(out, protoField{Number: num, Type: typ, Varint: v})
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return out
			}
			out = append(out, protoField{Number: num, Type: typ, Varint: uint64(v)})
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return out
			}
			out = append(out, protoField{Number: num, Type: typ, Varint: v})
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return out
			}
			out = append(out, protoField{Number: num, Type: typ, Bytes: v})
			b = b[n:]
		case protowire.StartGroupType:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return out
			}
			b = b[n:]
		default:
			return out
		}
	}
	return out
}

// subMessages returns the decoded BytesType payloads of every occurrence of
// field number in fields — i.e. "repeated message field_name = number"
// entries, in encounter order.
func subMessages(fields []protoField, number protowire.Number) [][]byte {
	var out [][]byte
	for _, f := range fields {
		if f.Number == number && f.Type == protowire.BytesType {
			out = append(out, f.Bytes)
		}
	}
	return out
}

// hasField reports whether fields contains number with the given wire type.
func hasField(fields []protoField, number protowire.Number, typ protowire.Type) bool {
	for _, f := range fields {
		if f.Number == number && f.Type == typ {
			return true
		}
	}
	return false
}

// appendTagAndBytes appends a length-delimited field (tag + varint length +
// payload) to dst, the building block used by the native and OTLP encoders
// to re-serialize without a generated message type.
func appendTagAndBytes(dst []byte, number protowire.Number, payload []byte) []byte {
	dst = protowire.AppendTag(dst, number, protowire.BytesType)
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}
