// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOctetCountingPayloadSpanningPushes(t *testing.T) {
	f := NewOctetCountingFramer(30)

	f.Push([]byte("28 abcdefghijklm"))
	_, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, NeedMore, outcome)

	// The second chunk starts with a digit and a space but it is payload
	// continuation, not a new header.
	f.Push([]byte("3 nopqrstuvwxyz"))
	frame, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	assert.Equal(t, "abcdefghijklm3 nopqrstuvwxyz", string(frame))

	_, outcome, _ = f.Next()
	assert.Equal(t, NeedMore, outcome)
}

func TestOctetCountingBadDigits(t *testing.T) {
	f := NewOctetCountingFramer(16)
	f.Push([]byte("232>1 zork"))

	_, outcome, err := f.Next()
	require.Equal(t, FrameError, outcome)
	require.Error(t, err)

	// Exactly one error; the bad header is consumed through its space and
	// the buffer afterwards holds only "zork".
	_, outcome, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, NeedMore, outcome)
	assert.Equal(t, "zork", string(f.buf))
}

func TestOctetCountingNewlineFallback(t *testing.T) {
	f := NewOctetCountingFramer(64)
	f.Push([]byte("plain syslog line\r\nnext"))

	frame, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	assert.Equal(t, "plain syslog line", string(frame))

	_, outcome, _ = f.Next()
	assert.Equal(t, NeedMore, outcome)
	assert.Equal(t, "next", string(f.buf))
}

func TestOctetCountingOversizedFrameDiscards(t *testing.T) {
	f := NewOctetCountingFramer(8)
	f.Push([]byte("20 aaaaaaaaaaaaaaaaaaaa5 hello"))

	_, outcome, err := f.Next()
	require.Equal(t, FrameError, outcome)
	require.Error(t, err)

	// The declared 20 payload bytes are skipped and the next valid frame
	// decodes normally.
	frame, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	assert.Equal(t, "hello", string(frame))
}

func TestOctetCountingOversizedFrameAcrossPushes(t *testing.T) {
	f := NewOctetCountingFramer(8)
	f.Push([]byte("20 aaaaaaaaaa"))

	_, outcome, err := f.Next()
	require.Equal(t, FrameError, outcome)
	require.Error(t, err)

	_, outcome, _ = f.Next()
	require.Equal(t, NeedMore, outcome)

	f.Push([]byte("aaaaaaaaaa4 ping"))
	frame, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	assert.Equal(t, "ping", string(frame))
}

func TestOctetCountingNoHeaderWithinMaxDiscardsToEol(t *testing.T) {
	f := NewOctetCountingFramer(4)
	f.Push([]byte("99999999"))

	_, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, NeedMore, outcome)

	f.Push([]byte("9\nok\n"))
	_, outcome, err = f.Next()
	require.Equal(t, FrameError, outcome)
	require.Error(t, err)

	frame, outcome, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	assert.Equal(t, "ok", string(frame))
}

// TestOctetCountingAlwaysAdvances feeds adversarial inputs and checks the
// liveness property: on any full buffer, repeated Next calls either drain it
// or keep reporting NeedMore, never loop forever re-reporting errors without
// consuming input.
func TestOctetCountingAlwaysAdvances(t *testing.T) {
	inputs := [][]byte{
		[]byte("0 \n"),
		[]byte(">>>\n>>>\n"),
		[]byte("999 x\nrest\n"),
		[]byte("1x nope\n"),
		[]byte("12345678901234567890 overflow\n"),
		{0xff, 0xfe, '\n'},
	}
	for i, input := range inputs {
		t.Run(fmt.Sprintf("input_%d", i), func(t *testing.T) {
			f := NewOctetCountingFramer(16)
			f.Push(input)
			for step := 0; step < len(input)+8; step++ {
				before := len(f.buf)
				_, outcome, _ := f.Next()
				if outcome == NeedMore {
					return // drained as far as possible without more input
				}
				if outcome == FrameError {
					require.Less(t, len(f.buf), before, "error path must consume input")
				}
			}
			t.Fatal("framer did not settle")
		})
	}
}
