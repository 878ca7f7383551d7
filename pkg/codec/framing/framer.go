// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package framing implements the byte-chunking half of the codec pipeline:
// framers turn an incoming byte stream into discrete message frames before a
// serializer turns a frame into an Event. Every framer shares the same
// three-valued outcome shape instead of using errors/exceptions for the
// "need more bytes" control-flow case.
package framing

import "fmt"

// Outcome discriminates a framer's attempt to extract one frame from its
// pending buffer.
type Outcome uint8

const (
	// NeedMore means the buffer does not yet hold a complete frame; the
	// caller should append more bytes and retry.
	NeedMore Outcome = iota
	// FrameReady means Next's frame return value holds one complete frame.
	FrameReady
	// FrameError means a malformed frame was encountered; the framer has
	// already advanced its cursor past the bad data (every error path
	// advances by at least one byte, so callers never spin on it).
	FrameError
)

// Error wraps a framing failure. Kind lets callers distinguish failure
// classes (e.g. "frame too long" vs "invalid length digits") without string
// matching.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("framing: %s: %s", e.Kind, e.Message) }

func newError(kind, message string) *Error { return &Error{Kind: kind, Message: message} }

// Framer incrementally extracts frames from an append-only buffer of
// received bytes. Implementations are not goroutine-safe; one Framer is
// owned by one stream.
type Framer interface {
	// Push appends newly received bytes to the framer's pending buffer.
	Push(b []byte)

	// Next attempts to extract the next complete frame. It may be called
	// repeatedly after a single Push, since one Push can contain several
	// frames (and NeedMore/FrameError never discard unconsumed input).
	Next() ([]byte, Outcome, error)
}
