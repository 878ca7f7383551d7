// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowvalet/flowvalet/pkg/codec"
	v2 "github.com/flowvalet/flowvalet/pkg/diskbuffer/v2"
	"github.com/flowvalet/flowvalet/pkg/event"
)

// diskChannel wraps a v2 disk buffer behind the Sender/Receiver interface.
// One record carries one EventArray, encoded with the native binary codec.
//
// Durability transfers acknowledgement responsibility: once a batch is
// written to disk, the upstream finalizers resolve Delivered (the buffer now
// owns the events), and each event read back out carries a fresh finalizer
// whose resolution drives the buffer's ordered-acknowledgement state and,
// eventually, data-file reclamation.
type diskChannel struct {
	buf   *v2.Buffer
	codec *codec.NativeCodec

	// outstanding counts events written but not yet read back, seeded with
	// the events recovered from a previous run; Recv uses it to distinguish
	// "drained after close" from "waiting for the writer".
	outstanding atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
}

// NewDisk wraps buf as a channel. The caller retains ownership of buf and
// closes it after both ends are done.
func NewDisk(buf *v2.Buffer) (Sender, Receiver) {
	c := &diskChannel{
		buf:    buf,
		codec:  codec.NewNativeCodec(),
		closed: make(chan struct{}),
	}
	c.outstanding.Store(int64(buf.PendingEvents()))
	return c, c
}

// ArrayDecode decodes one disk-channel record payload back into an
// EventArray. Exposed so disk-buffer recovery can validate stored records
// against the serializer in use.
func ArrayDecode(payload []byte) (*event.Array, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("channel: empty array payload")
	}
	kind := event.Kind(payload[0])
	rest := payload[1:]
	dec := codec.NewNativeCodec()
	var events []*event.Event
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("channel: truncated event length prefix")
		}
		n := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if n > len(rest) {
			return nil, fmt.Errorf("channel: event length %d exceeds remaining payload %d", n, len(rest))
		}
		decoded, err := dec.Decode(rest[:n])
		if err != nil {
			return nil, err
		}
		events = append(events, decoded...)
		rest = rest[n:]
	}
	return event.NewArray(kind, events...)
}

func arrayEncode(enc *codec.NativeCodec, a *event.Array) ([]byte, error) {
	out := []byte{byte(a.Kind)}
	for _, e := range a.Events {
		b, err := enc.Encode(e)
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		out = append(out, lenBuf[:]...)
		out = append(out, b...)
	}
	return out, nil
}

func (c *diskChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *diskChannel) Send(ctx context.Context, a *event.Array) error {
	if c.isClosed() {
		return ErrClosed
	}
	if a.Len() == 0 {
		return nil
	}
	payload, err := arrayEncode(c.codec, a)
	if err != nil {
		return err
	}
	if _, err := c.buf.Write(ctx, payload, uint64(a.Len())); err != nil {
		return err
	}
	c.outstanding.Add(int64(a.Len()))
	// The batch is durable; the buffer takes over delivery responsibility.
	a.ResolveAll(event.Delivered)
	return nil
}

func (c *diskChannel) Recv(ctx context.Context) (*event.Array, error) {
	for {
		if c.isClosed() && c.outstanding.Load() == 0 {
			return nil, ErrClosed
		}

		// A blocking read must also wake on Close, so the drain phase can
		// re-check the outstanding count instead of waiting for a writer
		// that is gone.
		readCtx, cancel := context.WithCancel(ctx)
		stop := make(chan struct{})
		go func() {
			select {
			case <-c.closed:
				cancel()
			case <-stop:
			}
		}()
		rec, ack, err := c.buf.Read(readCtx)
		close(stop)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c.isClosed() {
				// The read blocked (no data left) and the sender is
				// closed: nothing more can arrive. Records from a Send
				// racing the close stay durable for the next run.
				return nil, ErrClosed
			}
			return nil, err
		}

		a, err := ArrayDecode(rec.Payload)
		if err != nil {
			// A semantically undecodable record: per-record protocol
			// error, the record is acked away so reclamation is not
			// starved.
			ack(1)
			return nil, fmt.Errorf("channel: dropping undecodable record %d: %w", rec.ID, err)
		}
		c.outstanding.Add(-int64(a.Len()))
		if a.Len() == 0 {
			ack(1)
			return a, nil
		}

		// The record is acknowledged only once every event read from it
		// has resolved, whatever the status: reclamation cares about
		// resolution, delivery status is the sink's concern.
		count := uint64(a.Len())
		var pending atomic.Int64
		pending.Store(int64(a.Len()))
		for _, e := range a.Events {
			f := event.NewFinalizer()
			f.OnResolve(func(event.Status) {
				if pending.Add(-1) == 0 {
					ack(count)
				}
			})
			e.AttachFinalizer(f)
		}
		return a, nil
	}
}

func (c *diskChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.buf.Flush()
		close(c.closed)
	})
	return err
}
