// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// additionalFieldPattern is the GELF 1.1 "additional field name" rule:
// alphanumerics, underscore, dot, and dash.
var additionalFieldPattern = regexp.MustCompile(`^[\w.\-]+$`)

// GELFCodec implements a strict GELF/1.1 decode/encode contract:
// reject any version other than "1.1", require host and short_message,
// validate additional-field ("_*") names and value types, and reject the
// reserved "_id" key.
type GELFCodec struct{}

func NewGELFCodec() *GELFCodec { return &GELFCodec{} }

func (c *GELFCodec) Decode(frame []byte) ([]*event.Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("codec/gelf: %w", err)
	}

	var version string
	if v, ok := raw["version"]; ok {
		json.Unmarshal(v, &version)
	}
	if version != "1.1" {
		return nil, fmt.Errorf("codec/gelf: invalid version %q, must be \"1.1\"", version)
	}
	var host string
	if v, ok := raw["host"]; ok {
		json.Unmarshal(v, &host)
	}
	if host == "" {
		return nil, fmt.Errorf("codec/gelf: missing required field \"host\"")
	}
	var shortMessage string
	if v, ok := raw["short_message"]; ok {
		json.Unmarshal(v, &shortMessage)
	} else {
		return nil, fmt.Errorf("codec/gelf: missing required field \"short_message\"")
	}

	e := event.NewLog()
	e.Set(event.Path{event.Field("host")}, event.BytesString(host))
	e.Set(event.Path{event.Field("short_message")}, event.BytesString(shortMessage))

	if v, ok := raw["full_message"]; ok {
		var s string
		json.Unmarshal(v, &s)
		e.Set(event.Path{event.Field("full_message")}, event.BytesString(s))
	}
	if v, ok := raw["facility"]; ok {
		var s string
		json.Unmarshal(v, &s)
		e.Set(event.Path{event.Field("facility")}, event.BytesString(s))
	}
	if v, ok := raw["file"]; ok {
		var s string
		json.Unmarshal(v, &s)
		e.Set(event.Path{event.Field("file")}, event.BytesString(s))
	}
	if v, ok := raw["level"]; ok {
		var n int64
		json.Unmarshal(v, &n)
		e.Set(event.Path{event.Field("level")}, event.Integer(n))
	}
	if v, ok := raw["line"]; ok {
		var f float64
		json.Unmarshal(v, &f)
		if math.IsNaN(f) {
			return nil, fmt.Errorf("codec/gelf: \"line\" must not be NaN")
		}
		e.Set(event.Path{event.Field("line")}, event.Float(f))
	}

	if v, ok := raw["timestamp"]; ok {
		var secs float64
		json.Unmarshal(v, &secs)
		ns := int64(secs * 1e9)
		ts := time.Unix(0, ns).UTC()
		e.Metadata = event.Map(append(mapEntries(e.Metadata), event.MapEntry{Key: "timestamp", Value: event.Timestamp(ts)})...)
	} else {
		e.Metadata = event.Map(append(mapEntries(e.Metadata), event.MapEntry{Key: "timestamp", Value: event.Timestamp(time.Now())})...)
	}

	for key, v := range raw {
		switch key {
		case "version", "host", "short_message", "full_message", "timestamp", "level", "facility", "line", "file":
			continue
		}
		if len(key) == 0 || key[0] != '_' {
			// GELF allows unknown non-underscore keys to be ignored by a
			// lenient decoder, but this implementation is strict: any key
			// that is neither a known field nor an additional field is
			// invalid.
			return nil, fmt.Errorf("codec/gelf: invalid characters in key %q", key)
		}
		name := key[1:]
		if name == "id" {
			return nil, fmt.Errorf("codec/gelf: \"_id\" is a reserved additional-field name")
		}
		if !additionalFieldPattern.MatchString(name) {
			return nil, fmt.Errorf("codec/gelf: invalid characters in key %q", key)
		}
		var any any
		if err := json.Unmarshal(v, &any); err != nil {
			return nil, fmt.Errorf("codec/gelf: %w", err)
		}
		switch any.(type) {
		case string, float64:
			e.Set(event.Path{event.Field(key)}, anyToValue(any))
		default:
			return nil, fmt.Errorf("codec/gelf: additional field %q must be string or number", key)
		}
	}

	return []*event.Event{e}, nil
}

func mapEntries(v event.Value) []event.MapEntry {
	entries, _ := v.AsMap()
	return entries
}

// Encode re-serializes a decoded GELF event to GELF/1.1 JSON, round-tripping
// the canonical subset: host, short_message, full_message,
// timestamp, level, facility, line, file, and every "_*" additional field.
func (c *GELFCodec) Encode(e *event.Event) ([]byte, error) {
	out := map[string]any{"version": "1.1"}
	entries, _ := e.Fields.AsMap()
	for _, entry := range entries {
		switch entry.Key {
		case "host", "short_message", "full_message", "facility", "file":
			out[entry.Key] = entry.Value.String()
		case "level":
			if i, ok := entry.Value.AsInteger(); ok {
				out[entry.Key] = i
			}
		case "line":
			if f, ok := entry.Value.AsFloat(); ok {
				out[entry.Key] = f
			}
		default:
			if f, ok := entry.Value.AsFloat(); ok {
				out[entry.Key] = f
			} else if i, ok := entry.Value.AsInteger(); ok {
				out[entry.Key] = i
			} else {
				out[entry.Key] = entry.Value.String()
			}
		}
	}
	if ts, ok := e.Metadata.MapGet("timestamp"); ok {
		if t, ok := ts.AsTimestamp(); ok {
			out["timestamp"] = float64(t.UnixNano()) / 1e9
		}
	}
	return json.Marshal(out)
}
