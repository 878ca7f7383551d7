// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics holds the process-wide instrumentation registry. It is the
// one piece of shared mutable state in the router and is therefore created
// exactly once at startup and passed explicitly to every component at build
// time; no component reaches for a package-level default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry bundles the Prometheus registry with the counter families every
// pipeline component shares. Label cardinality is bounded by design: the
// only free label is the component id, which is fixed by configuration.
type Registry struct {
	reg *prometheus.Registry

	EventsIn  *prometheus.CounterVec
	EventsOut *prometheus.CounterVec

	BufferRecordsWritten *prometheus.CounterVec
	BufferRecordsRead    *prometheus.CounterVec
	BufferBytesWritten   *prometheus.CounterVec

	DedupeHits             *prometheus.CounterVec
	CardinalityRejections  *prometheus.CounterVec
	FinalizerResolutions   *prometheus.CounterVec
}

// NewRegistry builds the registry and registers every counter family plus
// the standard process/go collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		EventsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_component_received_events_total",
			Help: "Events received by a component.",
		}, []string{"component"}),
		EventsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_component_sent_events_total",
			Help: "Events emitted by a component.",
		}, []string{"component"}),
		BufferRecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_buffer_records_written_total",
			Help: "Records appended to a disk buffer.",
		}, []string{"buffer"}),
		BufferRecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_buffer_records_read_total",
			Help: "Records read back out of a disk buffer.",
		}, []string{"buffer"}),
		BufferBytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_buffer_bytes_written_total",
			Help: "Payload bytes appended to a disk buffer.",
		}, []string{"buffer"}),
		DedupeHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_dedupe_events_discarded_total",
			Help: "Events dropped as duplicates by a dedupe transform.",
		}, []string{"component"}),
		CardinalityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_cardinality_rejections_total",
			Help: "Tag values rejected by a cardinality limiter.",
		}, []string{"component", "tag"}),
		FinalizerResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowvalet_finalizer_resolutions_total",
			Help: "Finalizer resolutions by terminal status.",
		}, []string{"status"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.EventsIn, r.EventsOut,
		r.BufferRecordsWritten, r.BufferRecordsRead, r.BufferBytesWritten,
		r.DedupeHits, r.CardinalityRejections, r.FinalizerResolutions,
	)
	return r
}

// Prometheus exposes the underlying registry for the HTTP exposition
// handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }
