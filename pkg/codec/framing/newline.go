// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framing

import "bytes"

// NewlineFramer splits on LF and strips the terminator. A trailing CR is
// also stripped, so CRLF-terminated streams work without a separate framer.
type NewlineFramer struct {
	buf      []byte
	consumed int
}

func NewNewlineFramer() *NewlineFramer {
	return &NewlineFramer{}
}

func (f *NewlineFramer) Push(b []byte) {
	f.buf = append(f.buf, b...)
}

func (f *NewlineFramer) Next() ([]byte, Outcome, error) {
	pending := f.buf[f.consumed:]
	idx := bytes.IndexByte(pending, '\n')
	if idx < 0 {
		f.compact()
		return nil, NeedMore, nil
	}
	line := pending[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	frame := append([]byte(nil), line...)
	f.consumed += idx + 1
	f.compact()
	return frame, FrameReady, nil
}

// compact drops already-consumed bytes off the front of buf once the
// pending tail no longer needs them, keeping memory bounded for long-lived
// streams with many small frames.
func (f *NewlineFramer) compact() {
	if f.consumed == 0 {
		return
	}
	remaining := len(f.buf) - f.consumed
	copy(f.buf, f.buf[f.consumed:])
	f.buf = f.buf[:remaining]
	f.consumed = 0
}
