// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvalet/flowvalet/pkg/event"
)

const testAvroSchema = `{
	"type": "record",
	"name": "access_log",
	"fields": [
		{"name": "host", "type": "string"},
		{"name": "status", "type": "long"},
		{"name": "duration", "type": "double"},
		{"name": "cached", "type": "boolean"}
	]
}`

func TestAvroRoundTrip(t *testing.T) {
	c, err := NewAvroCodec(testAvroSchema)
	require.NoError(t, err)

	in := event.NewLog()
	in.Set(event.Path{event.Field("host")}, event.BytesString("web01"))
	in.Set(event.Path{event.Field("status")}, event.Integer(502))
	in.Set(event.Path{event.Field("duration")}, event.Float(0.25))
	in.Set(event.Path{event.Field("cached")}, event.Boolean(false))

	b, err := c.Encode(in)
	require.NoError(t, err)

	events, err := c.Decode(b)
	require.NoError(t, err)
	require.Len(t, events, 1)
	out := events[0]

	host, _ := out.Get(event.Path{event.Field("host")})
	assert.Equal(t, "web01", host.String())
	status, _ := out.Get(event.Path{event.Field("status")})
	i, ok := status.AsInteger()
	require.True(t, ok)
	assert.Equal(t, int64(502), i)
	duration, _ := out.Get(event.Path{event.Field("duration")})
	f, ok := duration.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 0.25, f)
}

func TestAvroInvalidSchema(t *testing.T) {
	_, err := NewAvroCodec(`{"type": "nonsense"}`)
	require.Error(t, err)
}

func TestAvroTrailingBytes(t *testing.T) {
	c, err := NewAvroCodec(testAvroSchema)
	require.NoError(t, err)

	in := event.NewLog()
	in.Set(event.Path{event.Field("host")}, event.BytesString("h"))
	in.Set(event.Path{event.Field("status")}, event.Integer(200))
	in.Set(event.Path{event.Field("duration")}, event.Float(1))
	in.Set(event.Path{event.Field("cached")}, event.Boolean(true))

	b, err := c.Encode(in)
	require.NoError(t, err)

	_, err = c.Decode(append(b, 0xde, 0xad))
	require.Error(t, err)
}
