// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// Field numbers for the hand-rolled "native" binary wire schema. There is no
// .proto file and no protoc-generated type: every field is encoded/decoded
// directly with protowire, which is the right tool here because the schema
// is entirely internal (unlike OTLP, nothing external needs to parse it),
// and the full round-trip (including an Event's recursive Value tree) does
// not warrant vendoring a code generator for a repository this size.
const (
	fEventKind            = protowire.Number(1)
	fEventFields          = protowire.Number(2)
	fEventMetadata        = protowire.Number(3)
	fEventTraceRoute      = protowire.Number(4)
	fEventMetricName      = protowire.Number(5)
	fEventMetricNamespace = protowire.Number(6)
	fEventMetricTimestamp = protowire.Number(7)
	fEventTag             = protowire.Number(8)
	fEventMetricKind      = protowire.Number(9)
	fEventMetricValue     = protowire.Number(10)

	fTagKey   = protowire.Number(1)
	fTagValue = protowire.Number(2)

	fValueKind      = protowire.Number(1)
	fValueBoolean   = protowire.Number(2)
	fValueInteger   = protowire.Number(3)
	fValueFloat     = protowire.Number(4)
	fValueBytes     = protowire.Number(5)
	fValueTimestamp = protowire.Number(6)
	fValueArray     = protowire.Number(7)
	fValueMap       = protowire.Number(8)

	fMapEntryKey   = protowire.Number(1)
	fMapEntryValue = protowire.Number(2)

	fMetricValueKind      = protowire.Number(1)
	fMetricValueCounter   = protowire.Number(2)
	fMetricValueGauge     = protowire.Number(3)
	fMetricValueSetMember = protowire.Number(4)
	fMetricValueSample    = protowire.Number(5)
	fMetricValueStatistic = protowire.Number(6)
	fMetricValueBucket    = protowire.Number(7)
	fMetricValueHCount    = protowire.Number(8)
	fMetricValueHSum      = protowire.Number(9)
	fMetricValueQuantile  = protowire.Number(10)
	fMetricValueSCount    = protowire.Number(11)
	fMetricValueSSum      = protowire.Number(12)
	fMetricValueSketch    = protowire.Number(13)

	fSampleValue = protowire.Number(1)
	fSampleRate  = protowire.Number(2)

	fBucketUpper = protowire.Number(1)
	fBucketCount = protowire.Number(2)

	fQuantileQ = protowire.Number(1)
	fQuantileV = protowire.Number(2)
)

// NativeCodec is the "native binary" serializer: a hand-rolled protowire
// schema for the Event model itself, round-tripping
// every field, including timestamps to nanosecond precision.
type NativeCodec struct{}

func NewNativeCodec() *NativeCodec { return &NativeCodec{} }

func (c *NativeCodec) Decode(frame []byte) ([]*event.Event, error) {
	e, err := decodeEvent(frame)
	if err != nil {
		return nil, fmt.Errorf("codec/native: %w", err)
	}
	return []*event.Event{e}, nil
}

func (c *NativeCodec) Encode(e *event.Event) ([]byte, error) {
	return encodeEvent(e), nil
}

func encodeEvent(e *event.Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, fEventKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))

	switch e.Kind {
	case event.KindLog, event.KindTrace:
		b = appendTagAndBytes(b, fEventFields, encodeValue(e.Fields))
		b = appendTagAndBytes(b, fEventMetadata, encodeValue(e.Metadata))
		if e.TraceRoute != "" {
			b = appendTagAndBytes(b, fEventTraceRoute, []byte(e.TraceRoute))
		}
	case event.KindMetricEvent:
		b = appendTagAndBytes(b, fEventMetricName, []byte(e.MetricName))
		if e.MetricNamespace != "" {
			b = appendTagAndBytes(b, fEventMetricNamespace, []byte(e.MetricNamespace))
		}
		if e.MetricTimestamp != nil {
			b = protowire.AppendTag(b, fEventMetricTimestamp, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, uint64(e.MetricTimestamp.UnixNano()))
		}
		for _, tag := range e.Tags {
			var tb []byte
			tb = appendTagAndBytes(tb, fTagKey, []byte(tag.Key))
			tb = appendTagAndBytes(tb, fTagValue, []byte(tag.Value))
			b = appendTagAndBytes(b, fEventTag, tb)
		}
		b = protowire.AppendTag(b, fEventMetricKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.MetricKind))
		b = appendTagAndBytes(b, fEventMetricValue, encodeMetricValue(e.MetricValue))
	}
	return b
}

func decodeEvent(b []byte) (*event.Event, error) {
	fields := scanFields(b)
	e := &event.Event{}
	for _, f := range fields {
		switch f.Number {
		case fEventKind:
			e.Kind = event.Kind(f.Varint)
		}
	}
	switch e.Kind {
	case event.KindLog, event.KindTrace:
		e.Fields = event.Map()
		e.Metadata = event.Map()
		for _, f := range fields {
			switch f.Number {
			case fEventFields:
				v, err := decodeValue(f.Bytes)
				if err != nil {
					return nil, err
				}
				e.Fields = v
			case fEventMetadata:
				v, err := decodeValue(f.Bytes)
				if err != nil {
					return nil, err
				}
				e.Metadata = v
			case fEventTraceRoute:
				e.TraceRoute = string(f.Bytes)
			}
		}
	case event.KindMetricEvent:
		for _, f := range fields {
			switch f.Number {
			case fEventMetricName:
				e.MetricName = string(f.Bytes)
			case fEventMetricNamespace:
				e.MetricNamespace = string(f.Bytes)
			case fEventMetricTimestamp:
				t := nsToTime(f.Varint)
				e.MetricTimestamp = &t
			case fEventTag:
				tagFields := scanFields(f.Bytes)
				var tag event.Tag
				for _, tf := range tagFields {
					switch tf.Number {
					case fTagKey:
						tag.Key = string(tf.Bytes)
					case fTagValue:
						tag.Value = string(tf.Bytes)
					}
				}
				e.Tags = append(e.Tags, tag)
			case fEventMetricKind:
				e.MetricKind = event.MetricKind(f.Varint)
			case fEventMetricValue:
				mv, err := decodeMetricValue(f.Bytes)
				if err != nil {
					return nil, err
				}
				e.MetricValue = mv
			}
		}
	default:
		return nil, fmt.Errorf("unknown event kind %d", e.Kind)
	}
	return e, nil
}

func encodeValue(v event.Value) []byte {
	var b []byte
	b = protowire.AppendTag(b, fValueKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Kind()))
	switch v.Kind() {
	case event.KindBoolean:
		bv, _ := v.AsBoolean()
		b = protowire.AppendTag(b, fValueBoolean, protowire.VarintType)
		if bv {
			b = protowire.AppendVarint(b, 1)
		} else {
			b = protowire.AppendVarint(b, 0)
		}
	case event.KindInteger:
		i, _ := v.AsInteger()
		b = protowire.AppendTag(b, fValueInteger, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(i))
	case event.KindFloat:
		fv, _ := v.AsFloat()
		b = protowire.AppendTag(b, fValueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(fv))
	case event.KindBytes:
		bv, _ := v.AsBytes()
		b = appendTagAndBytes(b, fValueBytes, bv)
	case event.KindTimestamp:
		t, _ := v.AsTimestamp()
		b = protowire.AppendTag(b, fValueTimestamp, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(t.UnixNano()))
	case event.KindArray:
		arr, _ := v.AsArray()
		for _, e := range arr {
			b = appendTagAndBytes(b, fValueArray, encodeValue(e))
		}
	case event.KindMap:
		entries, _ := v.AsMap()
		for _, e := range entries {
			var eb []byte
			eb = appendTagAndBytes(eb, fMapEntryKey, []byte(e.Key))
			eb = appendTagAndBytes(eb, fMapEntryValue, encodeValue(e.Value))
			b = appendTagAndBytes(b, fValueMap, eb)
		}
	}
	return b
}

func decodeValue(b []byte) (event.Value, error) {
	fields := scanFields(b)
	var kind event.ValueKind
	for _, f := range fields {
		if f.Number == fValueKind {
			kind = event.ValueKind(f.Varint)
		}
	}
	switch kind {
	case event.KindNull:
		return event.Null(), nil
	case event.KindBoolean:
		for _, f := range fields {
			if f.Number == fValueBoolean {
				return event.Boolean(f.Varint != 0), nil
			}
		}
	case event.KindInteger:
		for _, f := range fields {
			if f.Number == fValueInteger {
				return event.Integer(int64(f.Varint)), nil
			}
		}
	case event.KindFloat:
		for _, f := range fields {
			if f.Number == fValueFloat {
				return event.Float(math.Float64frombits(f.Varint)), nil
			}
		}
	case event.KindBytes:
		for _, f := range fields {
			if f.Number == fValueBytes {
				return event.Bytes(f.Bytes), nil
			}
		}
	case event.KindTimestamp:
		for _, f := range fields {
			if f.Number == fValueTimestamp {
				return event.Timestamp(nsToTime(f.Varint)), nil
			}
		}
	case event.KindArray:
		var arr []event.Value
		for _, f := range fields {
			if f.Number == fValueArray {
				ev, err := decodeValue(f.Bytes)
				if err != nil {
					return event.Null(), err
				}
				arr = append(arr, ev)
			}
		}
		return event.ArrayValue(arr...), nil
	case event.KindMap:
		var entries []event.MapEntry
		for _, f := range fields {
			if f.Number != fValueMap {
				continue
			}
			entryFields := scanFields(f.Bytes)
			var entry event.MapEntry
			for _, ef := range entryFields {
				switch ef.Number {
				case fMapEntryKey:
					entry.Key = string(ef.Bytes)
				case fMapEntryValue:
					ev, err := decodeValue(ef.Bytes)
					if err != nil {
						return event.Null(), err
					}
					entry.Value = ev
				}
			}
			entries = append(entries, entry)
		}
		return event.Map(entries...), nil
	}
	return event.Null(), nil
}

func encodeMetricValue(v event.MetricValue) []byte {
	var b []byte
	b = protowire.AppendTag(b, fMetricValueKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Kind()))
	switch v.Kind() {
	case event.MetricCounter:
		c, _ := v.Counter()
		b = protowire.AppendTag(b, fMetricValueCounter, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(c))
	case event.MetricGauge:
		g, _ := v.Gauge()
		b = protowire.AppendTag(b, fMetricValueGauge, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(g))
	case event.MetricSet:
		members, _ := v.Set()
		for m := range members {
			b = appendTagAndBytes(b, fMetricValueSetMember, []byte(m))
		}
	case event.MetricDistribution:
		samples, statistic, _ := v.Distribution()
		b = protowire.AppendTag(b, fMetricValueStatistic, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(statistic))
		for _, s := range samples {
			var sb []byte
			sb = protowire.AppendTag(sb, fSampleValue, protowire.Fixed64Type)
			sb = protowire.AppendFixed64(sb, math.Float64bits(s.Value))
			sb = protowire.AppendTag(sb, fSampleRate, protowire.VarintType)
			sb = protowire.AppendVarint(sb, uint64(s.Rate))
			b = appendTagAndBytes(b, fMetricValueSample, sb)
		}
	case event.MetricAggregatedHistogram:
		buckets, count, sum, _ := v.AggregatedHistogram()
		b = protowire.AppendTag(b, fMetricValueHCount, protowire.VarintType)
		b = protowire.AppendVarint(b, count)
		b = protowire.AppendTag(b, fMetricValueHSum, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(sum))
		for _, bk := range buckets {
			var bb []byte
			bb = protowire.AppendTag(bb, fBucketUpper, protowire.Fixed64Type)
			bb = protowire.AppendFixed64(bb, math.Float64bits(bk.UpperLimit))
			bb = protowire.AppendTag(bb, fBucketCount, protowire.VarintType)
			bb = protowire.AppendVarint(bb, bk.Count)
			b = appendTagAndBytes(b, fMetricValueBucket, bb)
		}
	case event.MetricAggregatedSummary:
		quantiles, count, sum, _ := v.AggregatedSummary()
		b = protowire.AppendTag(b, fMetricValueSCount, protowire.VarintType)
		b = protowire.AppendVarint(b, count)
		b = protowire.AppendTag(b, fMetricValueSSum, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(sum))
		for _, q := range quantiles {
			var qb []byte
			qb = protowire.AppendTag(qb, fQuantileQ, protowire.Fixed64Type)
			qb = protowire.AppendFixed64(qb, math.Float64bits(q.Quantile))
			qb = protowire.AppendTag(qb, fQuantileV, protowire.Fixed64Type)
			qb = protowire.AppendFixed64(qb, math.Float64bits(q.Value))
			b = appendTagAndBytes(b, fMetricValueQuantile, qb)
		}
	case event.MetricSketch:
		s, _ := v.Sketch()
		if s != nil {
			var sketchBytes []byte
			s.Encode(&sketchBytes, false)
			b = appendTagAndBytes(b, fMetricValueSketch, sketchBytes)
		}
	}
	return b
}

func decodeMetricValue(b []byte) (event.MetricValue, error) {
	fields := scanFields(b)
	var kind event.MetricValueKind
	for _, f := range fields {
		if f.Number == fMetricValueKind {
			kind = event.MetricValueKind(f.Varint)
		}
	}
	switch kind {
	case event.MetricCounter:
		for _, f := range fields {
			if f.Number == fMetricValueCounter {
				return event.CounterValue(math.Float64frombits(f.Varint)), nil
			}
		}
	case event.MetricGauge:
		for _, f := range fields {
			if f.Number == fMetricValueGauge {
				return event.GaugeValue(math.Float64frombits(f.Varint)), nil
			}
		}
	case event.MetricSet:
		var members []string
		for _, f := range fields {
			if f.Number == fMetricValueSetMember {
				members = append(members, string(f.Bytes))
			}
		}
		return event.SetValue(members...), nil
	case event.MetricDistribution:
		var statistic event.StatisticKind
		var samples []event.Sample
		for _, f := range fields {
			switch f.Number {
			case fMetricValueStatistic:
				statistic = event.StatisticKind(f.Varint)
			case fMetricValueSample:
				sf := scanFields(f.Bytes)
				var s event.Sample
				for _, x := range sf {
					switch x.Number {
					case fSampleValue:
						s.Value = math.Float64frombits(x.Varint)
					case fSampleRate:
						s.Rate = uint32(x.Varint)
					}
				}
				samples = append(samples, s)
			}
		}
		return event.DistributionValue(statistic, samples...), nil
	case event.MetricAggregatedHistogram:
		var count uint64
		var sum float64
		var buckets []event.HistogramBucket
		for _, f := range fields {
			switch f.Number {
			case fMetricValueHCount:
				count = f.Varint
			case fMetricValueHSum:
				sum = math.Float64frombits(f.Varint)
			case fMetricValueBucket:
				bf := scanFields(f.Bytes)
				var bucket event.HistogramBucket
				for _, x := range bf {
					switch x.Number {
					case fBucketUpper:
						bucket.UpperLimit = math.Float64frombits(x.Varint)
					case fBucketCount:
						bucket.Count = x.Varint
					}
				}
				buckets = append(buckets, bucket)
			}
		}
		return event.AggregatedHistogramValue(count, sum, buckets...), nil
	case event.MetricAggregatedSummary:
		var count uint64
		var sum float64
		var quantiles []event.QuantileValue
		for _, f := range fields {
			switch f.Number {
			case fMetricValueSCount:
				count = f.Varint
			case fMetricValueSSum:
				sum = math.Float64frombits(f.Varint)
			case fMetricValueQuantile:
				qf := scanFields(f.Bytes)
				var q event.QuantileValue
				for _, x := range qf {
					switch x.Number {
					case fQuantileQ:
						q.Quantile = math.Float64frombits(x.Varint)
					case fQuantileV:
						q.Value = math.Float64frombits(x.Varint)
					}
				}
				quantiles = append(quantiles, q)
			}
		}
		return event.AggregatedSummaryValue(count, sum, quantiles...), nil
	case event.MetricSketch:
		for _, f := range fields {
			if f.Number == fMetricValueSketch {
				s, err := ddsketch.DecodeDDSketch(f.Bytes, store.DefaultProvider, nil)
				if err != nil {
					return event.MetricValue{}, fmt.Errorf("decoding sketch: %w", err)
				}
				return event.SketchValue(s), nil
			}
		}
	}
	return event.MetricValue{}, nil
}
