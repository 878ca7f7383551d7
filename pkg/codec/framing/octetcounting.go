// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framing

import (
	"bytes"
	"strconv"
	"unicode/utf8"
)

type octetState uint8

const (
	stateNotDiscarding octetState = iota
	stateDiscarding
	stateDiscardingToEol
)

// OctetCountingFramer implements RFC 6587 §3.4.1 octet-counting framing with
// a fallback to newline framing for streams that don't use it. Three states:
// NotDiscarding / Discarding(N) / DiscardingToEol, with the invariant that
// every error path advances the cursor by at least one byte so the decoder
// never stalls on malformed input.
type OctetCountingFramer struct {
	maxLen   int
	buf      []byte
	consumed int

	state      octetState
	discardRem int
}

func NewOctetCountingFramer(maxLen int) *OctetCountingFramer {
	return &OctetCountingFramer{maxLen: maxLen}
}

func (f *OctetCountingFramer) Push(b []byte) {
	f.buf = append(f.buf, b...)
}

func (f *OctetCountingFramer) Next() ([]byte, Outcome, error) {
	for {
		switch f.state {
		case stateDiscarding:
			pending := f.buf[f.consumed:]
			n := f.discardRem
			if n > len(pending) {
				n = len(pending)
			}
			f.consumed += n
			f.discardRem -= n
			if f.discardRem <= 0 {
				f.state = stateNotDiscarding
			}
			if f.discardRem > 0 {
				f.compact()
				return nil, NeedMore, nil
			}
			// fully discarded; loop to attempt the next frame
			continue

		case stateDiscardingToEol:
			pending := f.buf[f.consumed:]
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				f.compact()
				return nil, NeedMore, nil
			}
			f.consumed += idx + 1
			f.state = stateNotDiscarding
			f.compact()
			return nil, FrameError, newError("frame_length_exceeded", "discarded oversized frame up to newline")

		default: // stateNotDiscarding
			pending := f.buf[f.consumed:]
			if len(pending) == 0 {
				return nil, NeedMore, nil
			}

			if pending[0] < '1' || pending[0] > '9' {
				return f.nextNewlineFallback(pending)
			}
			return f.nextOctetCounted(pending)
		}
	}
}

// nextOctetCounted handles the RFC 6587 "1*DIGIT SP" header case. The space
// is searched for within the first maxLen bytes: a valid header plus payload
// never needs a later space, so a buffer that reaches maxLen without one can
// only be garbage. Bad digits between the start and the space (e.g.
// "232>1 ") consume through the space and report exactly one error.
func (f *OctetCountingFramer) nextOctetCounted(pending []byte) ([]byte, Outcome, error) {
	scanLimit := f.maxLen
	if scanLimit > len(pending) {
		scanLimit = len(pending)
	}
	spaceIdx := bytes.IndexByte(pending[:scanLimit], ' ')
	if spaceIdx < 0 {
		if len(pending) < f.maxLen {
			f.compact()
			return nil, NeedMore, nil
		}
		// No header within the max frame length. If a newline is in
		// sight the garbage is bounded: consume through it and report.
		// Otherwise keep discarding until one shows up.
		if nl := bytes.IndexByte(pending, '\n'); nl >= 0 {
			f.consumed += nl + 1
			f.compact()
			return nil, FrameError, newError("frame_length_exceeded", "no octet-count header within max length; discarded to newline")
		}
		f.state = stateDiscardingToEol
		f.compact()
		return nil, NeedMore, nil
	}

	n, err := strconv.Atoi(string(pending[:spaceIdx]))
	if err != nil {
		f.consumed += spaceIdx + 1
		f.compact()
		return nil, FrameError, newError("invalid_length", "octet-count header did not parse as an integer")
	}

	if n > f.maxLen {
		f.consumed += spaceIdx + 1
		f.state = stateDiscarding
		f.discardRem = n
		f.compact()
		return nil, FrameError, newError("frame_length_exceeded", "declared octet count exceeds max length")
	}

	need := spaceIdx + 1 + n
	if len(pending) < need {
		f.compact()
		return nil, NeedMore, nil
	}
	frame := append([]byte(nil), pending[spaceIdx+1:need]...)
	f.consumed += need
	f.compact()
	if !utf8.Valid(frame) {
		return nil, FrameError, newError("invalid_utf8", "octet-counted frame is not valid UTF-8")
	}
	return frame, FrameReady, nil
}

// nextNewlineFallback handles the "first byte is not an octet-count digit"
// branch, which behaves like NewlineFramer except that an over-long line
// transitions to DiscardingToEol instead of buffering without bound.
func (f *OctetCountingFramer) nextNewlineFallback(pending []byte) ([]byte, Outcome, error) {
	idx := bytes.IndexByte(pending, '\n')
	if idx >= 0 {
		frame := bytes.TrimSuffix(pending[:idx], []byte{'\r'})
		frame = append([]byte(nil), frame...)
		f.consumed += idx + 1
		f.compact()
		return frame, FrameReady, nil
	}
	if len(pending) >= f.maxLen {
		f.state = stateDiscardingToEol
		f.compact()
		return nil, NeedMore, nil
	}
	f.compact()
	return nil, NeedMore, nil
}

func (f *OctetCountingFramer) compact() {
	if f.consumed == 0 {
		return
	}
	remaining := len(f.buf) - f.consumed
	copy(f.buf, f.buf[f.consumed:])
	f.buf = f.buf[:remaining]
	f.consumed = 0
}
