// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel

import (
	"context"
	"sync"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// memoryChannel is a bounded in-memory sender/receiver pair over a buffered
// Go channel. A full channel blocks the sender, which is the entire
// back-pressure mechanism: slowness propagates upstream instead of events
// being dropped.
//
// Close signals via a separate done channel rather than closing the data
// channel, so a Send racing Close fails with ErrClosed instead of panicking,
// and Recv still drains batches buffered before the close.
type memoryChannel struct {
	ch   chan *event.Array
	done chan struct{}
	once sync.Once
}

// NewMemory returns both ends of a bounded in-memory channel holding at most
// capacity batches.
func NewMemory(capacity int) (Sender, Receiver) {
	c := &memoryChannel{
		ch:   make(chan *event.Array, capacity),
		done: make(chan struct{}),
	}
	return c, c
}

func (c *memoryChannel) Send(ctx context.Context, a *event.Array) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- a:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryChannel) Recv(ctx context.Context) (*event.Array, error) {
	// Buffered batches are drained even after Close; the done signal only
	// wins once the data channel is empty.
	select {
	case a := <-c.ch:
		return a, nil
	default:
	}
	select {
	case a := <-c.ch:
		return a, nil
	case <-c.done:
		select {
		case a := <-c.ch:
			return a, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
