// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// OTLPSignal names one of the three OTLP export request types the decoder
// may be configured to accept.
type OTLPSignal string

const (
	OTLPLogs    OTLPSignal = "logs"
	OTLPMetrics OTLPSignal = "metrics"
	OTLPTraces  OTLPSignal = "traces"
)

// OTLP/1.0 field numbers. All three Export*ServiceRequest messages carry
// their repeated resource entries in field 1; the entries themselves are
// what distinguish the signals (a Span's trace_id in field 1 is
// length-delimited, a LogRecord's time_unix_nano in field 1 is fixed64, a
// Metric's name in field 1 is length-delimited), so candidate validation has
// to descend into the resource/scope/record nesting.
const (
	otlpResourceEntries = protowire.Number(1) // resourceLogs / resourceMetrics / resourceSpans
	otlpScopeEntries    = protowire.Number(2) // scope_logs / scope_metrics / scope_spans
	otlpRecordEntries   = protowire.Number(2) // log_records / metrics / spans
)

// OTLPCodec decodes protobuf-encoded OTLP export requests into events and
// re-encodes them bit-compatibly. The decoder tries the configured signal
// types in order; a candidate succeeds only if the frame parses as that
// request type with its resource-entry field populated and its records
// shaped like that signal's record type.
//
// Trace frames become Trace events. Log and metric frames both become Log
// events that preserve the OTLP field layout verbatim, so a downstream OTLP
// sink can re-emit the original bytes; this asymmetry is deliberate
// round-trip compatibility behaviour, not an oversight.
type OTLPCodec struct {
	signals []OTLPSignal
}

// NewOTLPCodec builds a codec trying signals in the given order. An empty
// list defaults to logs, metrics, traces.
func NewOTLPCodec(signals ...OTLPSignal) *OTLPCodec {
	if len(signals) == 0 {
		signals = []OTLPSignal{OTLPLogs, OTLPMetrics, OTLPTraces}
	}
	return &OTLPCodec{signals: signals}
}

// fieldName maps a signal to the event field its resource entries land in,
// mirroring the OTLP JSON mapping's names.
func (s OTLPSignal) fieldName() string {
	switch s {
	case OTLPLogs:
		return "resourceLogs"
	case OTLPMetrics:
		return "resourceMetrics"
	default:
		return "resourceSpans"
	}
}

func (c *OTLPCodec) Decode(frame []byte) ([]*event.Event, error) {
	for _, sig := range c.signals {
		entries, ok := parseExportRequest(frame, sig)
		if !ok {
			continue
		}

		var e *event.Event
		if sig == OTLPTraces {
			e = event.NewTrace()
		} else {
			e = event.NewLog()
		}
		vals := make([]event.Value, len(entries))
		for i, entry := range entries {
			vals[i] = event.Bytes(entry)
		}
		e.Set(event.Path{event.Field(sig.fieldName())}, event.ArrayValue(vals...))
		return []*event.Event{e}, nil
	}

	names := make([]string, len(c.signals))
	for i, s := range c.signals {
		names[i] = string(s)
	}
	return nil, fmt.Errorf("codec/otlp: frame did not decode as any configured signal [%s]", strings.Join(names, ", "))
}

// parseExportRequest validates frame as an Export<sig>ServiceRequest and
// returns its resource entries. A populated resource-entry field is required;
// every record reachable under it must be shaped like sig's record type.
func parseExportRequest(frame []byte, sig OTLPSignal) ([][]byte, bool) {
	fields := scanFields(frame)
	if len(fields) == 0 {
		return nil, false
	}
	// An export request has no fields other than the repeated resource
	// entries; anything else means this is not that message.
	for _, f := range fields {
		if f.Number != otlpResourceEntries || f.Type != protowire.BytesType {
			return nil, false
		}
	}
	entries := subMessages(fields, otlpResourceEntries)
	if len(entries) == 0 {
		return nil, false
	}
	for _, entry := range entries {
		resourceFields := scanFields(entry)
		for _, scope := range subMessages(resourceFields, otlpScopeEntries) {
			scopeFields := scanFields(scope)
			for _, record := range subMessages(scopeFields, otlpRecordEntries) {
				if !recordMatchesSignal(record, sig) {
					return nil, false
				}
			}
		}
	}
	return entries, true
}

// recordMatchesSignal checks a record's field-1 wire shape against the
// signal's record type: LogRecord.time_unix_nano is fixed64,
// Span.trace_id is 16 length-delimited bytes (and span_id 8), Metric.name is
// length-delimited.
func recordMatchesSignal(record []byte, sig OTLPSignal) bool {
	fields := scanFields(record)
	switch sig {
	case OTLPLogs:
		for _, f := range fields {
			if f.Number == 1 && f.Type != protowire.Fixed64Type {
				return false
			}
		}
		return true
	case OTLPTraces:
		sawTraceID := false
		for _, f := range fields {
			switch f.Number {
			case 1:
				if f.Type != protowire.BytesType || len(f.Bytes) != 16 {
					return false
				}
				sawTraceID = true
			case 2:
				if f.Type != protowire.BytesType || len(f.Bytes) != 8 {
					return false
				}
			}
		}
		return sawTraceID
	default: // OTLPMetrics
		for _, f := range fields {
			if f.Number == 1 && f.Type != protowire.BytesType {
				return false
			}
		}
		return true
	}
}

// Encode re-serializes an event previously produced by Decode back to the
// OTLP wire format. The resource entries were preserved verbatim, so the
// output is byte-identical to the input frame for any well-formed request.
func (c *OTLPCodec) Encode(e *event.Event) ([]byte, error) {
	for _, sig := range []OTLPSignal{OTLPLogs, OTLPMetrics, OTLPTraces} {
		v, ok := e.Get(event.Path{event.Field(sig.fieldName())})
		if !ok {
			continue
		}
		entries, ok := v.AsArray()
		if !ok {
			return nil, fmt.Errorf("codec/otlp: %s field is not an array", sig.fieldName())
		}
		var out []byte
		for _, entry := range entries {
			raw, ok := entry.AsBytes()
			if !ok {
				return nil, fmt.Errorf("codec/otlp: %s entry is not bytes", sig.fieldName())
			}
			out = appendTagAndBytes(out, otlpResourceEntries, raw)
		}
		return out, nil
	}
	return nil, fmt.Errorf("codec/otlp: event carries no OTLP resource entries")
}
