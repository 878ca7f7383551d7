// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import "github.com/flowvalet/flowvalet/pkg/event"

// RawBytesCodec is a pure passthrough: the frame becomes an event's "message"
// field as raw Bytes rather than being decoded as text, and Encode emits the
// field's raw bytes unchanged. Used by sinks/sources that want the codec
// pipeline's framing without any interpretation of the payload.
type RawBytesCodec struct {
	Field string
}

func NewRawBytesCodec() *RawBytesCodec { return &RawBytesCodec{Field: "message"} }

func (c *RawBytesCodec) field() string {
	if c.Field == "" {
		return "message"
	}
	return c.Field
}

func (c *RawBytesCodec) Decode(frame []byte) ([]*event.Event, error) {
	e := event.NewLog()
	e.Set(event.Path{event.Field(c.field())}, event.Bytes(frame))
	return []*event.Event{e}, nil
}

func (c *RawBytesCodec) Encode(e *event.Event) ([]byte, error) {
	v, ok := e.Get(event.Path{event.Field(c.field())})
	if !ok {
		return nil, nil
	}
	if b, ok := v.AsBytes(); ok {
		return b, nil
	}
	return []byte(v.String()), nil
}
