// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package channel is the typed fabric events travel on between pipeline
// components: one sender/receiver pair carrying homogeneous EventArray
// batches, with back-pressure expressed by the sender blocking when the
// channel is full. The in-memory and disk-backed variants share one
// interface so the component graph can swap them per edge from
// configuration alone.
package channel

import (
	"context"
	"errors"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// ErrClosed is returned by Send after Close, and by Recv once the channel is
// closed and drained.
var ErrClosed = errors.New("channel: closed")

// Sender is the producing end. Send blocks while the channel is full; there
// is no drop-on-full at this layer, drop semantics belong to transforms.
type Sender interface {
	Send(ctx context.Context, a *event.Array) error
	Close() error
}

// Receiver is the consuming end. Recv blocks until a batch is available,
// returning ErrClosed once the sender has closed and all batches are
// drained.
type Receiver interface {
	Recv(ctx context.Context) (*event.Array, error)
}
