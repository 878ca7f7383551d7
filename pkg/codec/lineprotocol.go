// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/flowvalet/flowvalet/pkg/event"
)

// LineProtocolCodec decodes InfluxDB line-protocol frames into Metric events
// and encodes Metric events back to line protocol. One frame may carry many
// lines, and one line carries one field set; every (line, field) pair becomes
// its own Metric event named "<measurement>" for the conventional "value"
// field and "<measurement>_<field>" otherwise.
type LineProtocolCodec struct{}

func NewLineProtocolCodec() *LineProtocolCodec { return &LineProtocolCodec{} }

func (c *LineProtocolCodec) Decode(frame []byte) ([]*event.Event, error) {
	dec := lineprotocol.NewDecoderWithBytes(frame)

	var out []*event.Event
	for dec.Next() {
		rawMeasurement, err := dec.Measurement()
		if err != nil {
			return nil, fmt.Errorf("codec/influxdb: %w", err)
		}
		// Copied because the next dec call invalidates the returned slice.
		measurement := string(rawMeasurement)

		var tags event.TagSet
		for {
			key, val, err := dec.NextTag()
			if err != nil {
				return nil, fmt.Errorf("codec/influxdb: %w", err)
			}
			if key == nil {
				break
			}
			tags = append(tags, event.Tag{Key: string(key), Value: string(val)})
		}

		type fieldSample struct {
			name  string
			value float64
		}
		var samples []fieldSample
		for {
			key, val, err := dec.NextField()
			if err != nil {
				return nil, fmt.Errorf("codec/influxdb: %w", err)
			}
			if key == nil {
				break
			}
			name := measurement
			if string(key) != "value" {
				name = measurement + "_" + string(key)
			}
			var f float64
			switch val.Kind() {
			case lineprotocol.Float:
				f = val.FloatV()
			case lineprotocol.Int:
				f = float64(val.IntV())
			case lineprotocol.Uint:
				f = float64(val.UintV())
			case lineprotocol.Bool:
				if val.BoolV() {
					f = 1
				}
			default:
				// String fields have no numeric rendition; skipped rather
				// than failing the whole line.
				continue
			}
			samples = append(samples, fieldSample{name: name, value: f})
		}

		ts, err := dec.Time(lineprotocol.Nanosecond, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("codec/influxdb: %w", err)
		}

		for _, s := range samples {
			e := event.NewMetric(s.name, event.Absolute, event.GaugeValue(s.value))
			e.Tags = tags.Clone()
			if !ts.IsZero() {
				t := ts.UTC()
				e.MetricTimestamp = &t
			}
			out = append(out, e)
		}
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("codec/influxdb: %w", err)
	}
	return out, nil
}

func (c *LineProtocolCodec) Encode(e *event.Event) ([]byte, error) {
	if e.Kind != event.KindMetricEvent {
		return nil, fmt.Errorf("codec/influxdb: only metric events encode to line protocol, got %s", e.Kind)
	}

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(e.MetricName)
	for _, t := range e.Tags {
		enc.AddTag(t.Key, t.Value)
	}

	switch e.MetricValue.Kind() {
	case event.MetricCounter:
		v, _ := e.MetricValue.Counter()
		enc.AddField("value", lineprotocol.MustNewValue(v))
	case event.MetricGauge:
		v, _ := e.MetricValue.Gauge()
		enc.AddField("value", lineprotocol.MustNewValue(v))
	default:
		return nil, fmt.Errorf("codec/influxdb: metric value kind %d has no line-protocol form", e.MetricValue.Kind())
	}

	if e.MetricTimestamp != nil {
		enc.EndLine(*e.MetricTimestamp)
	} else {
		enc.EndLine(time.Time{})
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("codec/influxdb: %w", err)
	}
	return enc.Bytes(), nil
}
