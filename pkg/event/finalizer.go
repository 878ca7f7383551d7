// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "sync"

// Status is the terminal state a Finalizer resolves to.
type Status uint8

const (
	// Dropped is the default status reported when a finalizer is released
	// without an explicit resolution (dropping without a status is an
	// explicit invariant from the data model: it reports Dropped, not an
	// unresolved/zero state).
	Dropped Status = iota
	Delivered
	Errored
	Rejected
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Errored:
		return "errored"
	case Rejected:
		return "rejected"
	default:
		return "dropped"
	}
}

// Finalizer is a single-shot completion handle. It may be resolved exactly
// once; later calls to Resolve are no-ops. The resolved status is observed
// through OnResolve callbacks.
type Finalizer struct {
	mu       sync.Mutex
	resolved bool
	status   Status
	onResolve []func(Status)
}

// NewFinalizer returns an unresolved finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Resolve sets the terminal status. Only the first call has effect, matching
// "single-shot": later resolutions are silently ignored rather than erroring,
// since composed/merged finalizers may be resolved from more than one racing
// caller path (e.g. cancellation racing normal delivery).
func (f *Finalizer) Resolve(status Status) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.status = status
	callbacks := f.onResolve
	f.onResolve = nil
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(status)
	}
}

// OnResolve registers a callback invoked exactly once when the finalizer
// resolves, immediately if it already has. Used by disk-buffer records to
// update ordered-acknowledgement state without the caller polling.
func (f *Finalizer) OnResolve(cb func(Status)) {
	f.mu.Lock()
	if f.resolved {
		status := f.status
		f.mu.Unlock()
		cb(status)
		return
	}
	f.onResolve = append(f.onResolve, cb)
	f.mu.Unlock()
}

// Release resolves the finalizer to Dropped if it has not already resolved,
// implementing the "dropping without explicit status reports Dropped"
// invariant. Safe to call on an already-resolved finalizer.
func (f *Finalizer) Release() {
	f.Resolve(Dropped)
}

// FinalizerSet is the set of finalizers an Event carries. Merging two events
// merges their finalizer sets; resolving a FinalizerSet resolves every
// member, which is how splits/merges stay correct without components having
// to track provenance themselves.
type FinalizerSet struct {
	finalizers []*Finalizer
}

func NewFinalizerSet(f ...*Finalizer) *FinalizerSet {
	return &FinalizerSet{finalizers: append([]*Finalizer(nil), f...)}
}

func (s *FinalizerSet) Add(f *Finalizer) {
	if f == nil {
		return
	}
	s.finalizers = append(s.finalizers, f)
}

// Merge folds other's finalizers into s, used when two events combine.
func (s *FinalizerSet) Merge(other *FinalizerSet) {
	if other == nil {
		return
	}
	s.finalizers = append(s.finalizers, other.finalizers...)
}

// Take returns and clears the held finalizers, leaving s empty. Used when an
// event is consumed by a sink that must resolve them exactly once.
func (s *FinalizerSet) Take() []*Finalizer {
	out := s.finalizers
	s.finalizers = nil
	return out
}

// Resolve resolves every held finalizer with status.
func (s *FinalizerSet) Resolve(status Status) {
	for _, f := range s.finalizers {
		f.Resolve(status)
	}
}

// Len reports how many finalizers are currently held.
func (s *FinalizerSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.finalizers)
}
