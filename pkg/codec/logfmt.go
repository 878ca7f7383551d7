// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"fmt"

	"github.com/go-logfmt/logfmt"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// LogfmtCodec decodes/encodes one frame as a single logfmt ("key=value
// key2=\"value two\"") record into a flat Log event.
type LogfmtCodec struct{}

func NewLogfmtCodec() *LogfmtCodec { return &LogfmtCodec{} }

func (c *LogfmtCodec) Decode(frame []byte) ([]*event.Event, error) {
	dec := logfmt.NewDecoder(bytes.NewReader(frame))
	e := event.NewLog()
	if !dec.ScanRecord() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("codec/logfmt: %w", err)
		}
		return []*event.Event{e}, nil
	}
	for dec.ScanKeyval() {
		key := string(dec.Key())
		val := string(dec.Value())
		e.Set(event.Path{event.Field(key)}, event.BytesString(val))
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("codec/logfmt: %w", err)
	}
	return []*event.Event{e}, nil
}

func (c *LogfmtCodec) Encode(e *event.Event) ([]byte, error) {
	entries, _ := e.Fields.AsMap()
	var buf bytes.Buffer
	enc := logfmt.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.EncodeKeyval(entry.Key, entry.Value.String()); err != nil {
			return nil, fmt.Errorf("codec/logfmt: %w", err)
		}
	}
	if err := enc.EndRecord(); err != nil {
		return nil, fmt.Errorf("codec/logfmt: %w", err)
	}
	return buf.Bytes(), nil
}
