// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import "github.com/flowvalet/flowvalet/pkg/event"

// TextCodec treats a frame as an opaque message: the entire frame becomes
// the event's "message" field, with no further parsing. This is the
// lowest-common-denominator codec, used for sources that have
// no structure beyond line-delimited text.
type TextCodec struct {
	// Field is the field name the raw message is stored under. Defaults to
	// "message" to match the convention every other source/sink in this
	// repository's domain stack uses for the primary text payload.
	Field string
}

func NewTextCodec() *TextCodec { return &TextCodec{Field: "message"} }

func (c *TextCodec) field() string {
	if c.Field == "" {
		return "message"
	}
	return c.Field
}

func (c *TextCodec) Decode(frame []byte) ([]*event.Event, error) {
	e := event.NewLog()
	e.Set(event.Path{event.Field(c.field())}, event.BytesString(string(frame)))
	return []*event.Event{e}, nil
}

func (c *TextCodec) Encode(e *event.Event) ([]byte, error) {
	v, ok := e.Get(event.Path{event.Field(c.field())})
	if !ok {
		return nil, nil
	}
	return []byte(v.String()), nil
}
