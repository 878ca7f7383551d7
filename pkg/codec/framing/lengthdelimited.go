// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framing

import "encoding/binary"

// LengthDelimitedFramer reads a 32-bit little-endian length prefix followed
// by exactly that many payload bytes.
type LengthDelimitedFramer struct {
	maxLen   int
	buf      []byte
	consumed int
}

func NewLengthDelimitedFramer(maxLen int) *LengthDelimitedFramer {
	return &LengthDelimitedFramer{maxLen: maxLen}
}

func (f *LengthDelimitedFramer) Push(b []byte) {
	f.buf = append(f.buf, b...)
}

func (f *LengthDelimitedFramer) Next() ([]byte, Outcome, error) {
	pending := f.buf[f.consumed:]
	if len(pending) < 4 {
		f.compact()
		return nil, NeedMore, nil
	}
	n := binary.LittleEndian.Uint32(pending[:4])
	if f.maxLen > 0 && int(n) > f.maxLen {
		f.consumed += 4
		f.compact()
		return nil, FrameError, newError("frame_too_long", "declared length exceeds max length")
	}
	if len(pending) < 4+int(n) {
		f.compact()
		return nil, NeedMore, nil
	}
	frame := append([]byte(nil), pending[4:4+n]...)
	f.consumed += 4 + int(n)
	f.compact()
	return frame, FrameReady, nil
}

func (f *LengthDelimitedFramer) compact() {
	if f.consumed == 0 {
		return
	}
	remaining := len(f.buf) - f.consumed
	copy(f.buf, f.buf[f.consumed:])
	f.buf = f.buf[:remaining]
	f.consumed = 0
}
