// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec implements the serializer/deserializer half of the codec
// pipeline: converting one already-framed byte payload into one or
// more Events, and back. Framing (pkg/codec/framing) is an orthogonal
// concern composed in front of these.
package codec

import (
	"fmt"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// Decoder turns one frame's bytes into zero or more Events. Most decoders
// produce exactly one event per frame; the line-protocol decoder is the
// exception (one metric event per line and field).
type Decoder interface {
	Decode(frame []byte) ([]*event.Event, error)
}

// Encoder turns one Event into bytes suitable for handing to a framer (or,
// for length-prefixed/OTLP wire formats, straight to the transport).
type Encoder interface {
	Encode(e *event.Event) ([]byte, error)
}

// Kind names one of the serializer/deserializer variants, used
// by pkg/config to select a concrete Decoder/Encoder from a closed set
// rather than a free-form string.
type Kind string

const (
	KindJSON          Kind = "json"
	KindText          Kind = "text"
	KindLogfmt        Kind = "logfmt"
	KindRaw           Kind = "raw"
	KindAvro          Kind = "avro"
	KindNative        Kind = "native"
	KindNativeJSON    Kind = "native_json"
	KindGELF          Kind = "gelf"
	KindOTLP          Kind = "otlp"
	KindLineProtocol  Kind = "influxdb"
)

// ErrUnsupportedKind is returned by NewDecoder/NewEncoder for an unknown Kind.
type ErrUnsupportedKind struct{ Kind Kind }

func (e *ErrUnsupportedKind) Error() string {
	return fmt.Sprintf("codec: unsupported kind %q", e.Kind)
}
