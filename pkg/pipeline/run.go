// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"

	"github.com/flowvalet/flowvalet/pkg/channel"
	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
)

// runTransform executes one transform node until its input closes, choosing
// the executor by flavour: function and synchronous transforms run inline on
// the goroutine that pulls the batch (they have no suspension points of
// their own), task transforms own their full run loop.
func runTransform(ctx context.Context, name string, tr any, in channel.Receiver, outs map[string]channel.Sender, m *metrics.Registry) {
	defer func() {
		for _, out := range outs {
			out.Close()
		}
	}()

	switch t := tr.(type) {
	case TaskTransform:
		if err := t.Run(ctx, in, outs); err != nil && ctx.Err() == nil {
			log.Errorf("pipeline: transform %s: %v", name, err)
		}
		if ctx.Err() != nil {
			dropRemaining(ctx, in)
		}
		return
	case FunctionTransform:
		runInline(ctx, name, in, m, func(e *event.Event, push func(string, *event.Event)) {
			if out := t.TransformOne(e); out != nil {
				push(DefaultOutput, out)
			} else {
				e.Finalizers.Resolve(event.Dropped)
			}
		}, outs)
	case SyncTransform:
		runInline(ctx, name, in, m, t.Transform, outs)
	}
}

// runInline is the shared pull-transform-push loop for the two synchronous
// flavours. Events the transform does not push are its own responsibility
// (function drops are resolved above; synchronous transforms resolve what
// they drop themselves, as the dedupe and cardinality transforms do).
func runInline(ctx context.Context, name string, in channel.Receiver, m *metrics.Registry,
	apply func(e *event.Event, push func(string, *event.Event)), outs map[string]channel.Sender) {

	pending := make(map[string][]*event.Event)
	push := func(output string, e *event.Event) {
		pending[output] = append(pending[output], e)
	}

	for {
		a, err := in.Recv(ctx)
		if err == channel.ErrClosed {
			return
		}
		if err != nil {
			// Cancelled mid-drain: everything still queued resolves
			// Dropped.
			dropRemaining(ctx, in)
			return
		}
		m.EventsIn.WithLabelValues(name).Add(float64(a.Len()))

		for _, e := range a.Events {
			apply(e, push)
		}
		sent := 0
		for output, events := range pending {
			if len(events) == 0 {
				continue
			}
			out, ok := outs[output]
			if !ok {
				// An undeclared output name; resolvable only by dropping.
				log.Warnf("pipeline: transform %s pushed to unknown output %q", name, output)
				for _, e := range events {
					e.Finalizers.Resolve(event.Dropped)
				}
				continue
			}
			if err := sendGrouped(ctx, out, events); err != nil {
				dropEvents(events)
				dropRemaining(ctx, in)
				return
			}
			sent += len(events)
			pending[output] = nil
		}
		m.EventsOut.WithLabelValues(name).Add(float64(sent))
	}
}

// sendGrouped batches a flat event list into homogeneous arrays, preserving
// order, and sends them.
func sendGrouped(ctx context.Context, out channel.Sender, events []*event.Event) error {
	i := 0
	for i < len(events) {
		j := i + 1
		for j < len(events) && events[j].Kind == events[i].Kind {
			j++
		}
		a, err := event.NewArray(events[i].Kind, events[i:j]...)
		if err != nil {
			return err
		}
		if err := out.Send(ctx, a); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func dropEvents(events []*event.Event) {
	for _, e := range events {
		e.Finalizers.Resolve(event.Dropped)
	}
}

// dropRemaining drains whatever is still queued on a cancelled input and
// resolves it Dropped, so buffers upstream are never starved of
// acknowledgements by a force-stop.
func dropRemaining(ctx context.Context, in channel.Receiver) {
	for {
		a, err := in.Recv(ctx)
		if err != nil {
			return
		}
		a.ResolveAll(event.Dropped)
	}
}
