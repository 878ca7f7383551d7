// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/flowvalet/flowvalet/pkg/diskbuffer/v2"
	"github.com/flowvalet/flowvalet/pkg/event"
)

func logArray(t *testing.T, messages ...string) *event.Array {
	t.Helper()
	events := make([]*event.Event, len(messages))
	for i, m := range messages {
		e := event.NewLog()
		e.Set(event.Path{event.Field("message")}, event.BytesString(m))
		events[i] = e
	}
	a, err := event.NewArray(event.KindLog, events...)
	require.NoError(t, err)
	return a
}

func TestMemoryChannelFIFO(t *testing.T) {
	s, r := NewMemory(4)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, logArray(t, "one")))
	require.NoError(t, s.Send(ctx, logArray(t, "two")))

	a, err := r.Recv(ctx)
	require.NoError(t, err)
	msg, _ := a.Events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "one", msg.String())

	a, err = r.Recv(ctx)
	require.NoError(t, err)
	msg, _ = a.Events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "two", msg.String())
}

func TestMemoryChannelBackPressure(t *testing.T) {
	s, _ := NewMemory(1)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, logArray(t, "fills")))

	// The channel is full; the next send must block until the context
	// expires rather than dropping the batch.
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := s.Send(shortCtx, logArray(t, "blocked"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryChannelCloseDrains(t *testing.T) {
	s, r := NewMemory(4)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, logArray(t, "buffered")))
	require.NoError(t, s.Close())

	// Buffered batches survive the close; only then does Recv report it.
	a, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	_, err = r.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)

	err = s.Send(ctx, logArray(t, "late"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestDiskChannelRoundTrip(t *testing.T) {
	buf, err := v2.Open(t.TempDir(), v2.Options{})
	require.NoError(t, err)
	defer buf.Close()

	s, r := NewDisk(buf)
	ctx := context.Background()

	in := logArray(t, "durable-1", "durable-2")
	inFinalizer := event.NewFinalizer()
	in.Events[0].AttachFinalizer(inFinalizer)

	require.NoError(t, s.Send(ctx, in))

	// Writing to disk is the delivery boundary for upstream finalizers.
	delivered := make(chan event.Status, 1)
	inFinalizer.OnResolve(func(st event.Status) { delivered <- st })
	select {
	case st := <-delivered:
		assert.Equal(t, event.Delivered, st)
	default:
		t.Fatal("upstream finalizer not resolved by durable write")
	}

	out, err := r.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	msg, _ := out.Events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "durable-1", msg.String())
	assert.Equal(t, 1, out.Events[0].Finalizers.Len(), "read events carry the buffer's own finalizer")

	// Resolving every event's finalizer acknowledges the record.
	out.ResolveAll(event.Delivered)
	assert.Eventually(t, func() bool { return buf.PendingEvents() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDiskChannelCloseDrains(t *testing.T) {
	buf, err := v2.Open(t.TempDir(), v2.Options{})
	require.NoError(t, err)
	defer buf.Close()

	s, r := NewDisk(buf)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, logArray(t, "before-close")))
	require.NoError(t, s.Close())

	a, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	a.ResolveAll(event.Dropped)

	_, err = r.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDiskChannelPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	buf, err := v2.Open(dir, v2.Options{})
	require.NoError(t, err)
	s, _ := NewDisk(buf)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, logArray(t, "survives")))
	require.NoError(t, buf.Close())

	buf, err = v2.Open(dir, v2.Options{})
	require.NoError(t, err)
	defer buf.Close()
	s2, r2 := NewDisk(buf)
	require.NoError(t, s2.Close())

	a, err := r2.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, a.Len())
	msg, _ := a.Events[0].Get(event.Path{event.Field("message")})
	assert.Equal(t, "survives", msg.String())
	a.ResolveAll(event.Delivered)

	_, err = r2.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
