// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "fmt"

// Array is a homogeneous batch of Events of one Kind flowing through one
// channel. The channel fabric and disk buffer only
// ever move Arrays, never loose Events, so that a single record/read carries
// many events at once.
type Array struct {
	Kind   Kind
	Events []*Event
}

// NewArray validates that every event shares kind and wraps them.
func NewArray(kind Kind, events ...*Event) (*Array, error) {
	for _, e := range events {
		if e.Kind != kind {
			return nil, fmt.Errorf("event: array kind %s does not match event kind %s", kind, e.Kind)
		}
	}
	return &Array{Kind: kind, Events: events}, nil
}

// Len returns the number of events in the array.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Events)
}

// ResolveAll resolves every finalizer of every event in the array with the
// given status. Used by sinks and by transforms that drop an entire array.
func (a *Array) ResolveAll(status Status) {
	if a == nil {
		return
	}
	for _, e := range a.Events {
		e.Finalizers.Resolve(status)
	}
}

// EstimatedJSONSize sums the estimated size of every event in the array.
func (a *Array) EstimatedJSONSize() int {
	n := 0
	for _, e := range a.Events {
		n += e.EstimatedJSONSize()
	}
	return n
}
