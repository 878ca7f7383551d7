// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "github.com/DataDog/sketches-go/ddsketch"

// MetricKind distinguishes absolute (point-in-time) metrics from
// incremental (delta-to-be-summed) ones.
type MetricKind uint8

const (
	Absolute MetricKind = iota
	Incremental
)

// MetricValueKind discriminates the Metric value variants.
type MetricValueKind uint8

const (
	MetricCounter MetricValueKind = iota
	MetricGauge
	MetricSet
	MetricDistribution
	MetricAggregatedHistogram
	MetricAggregatedSummary
	MetricSketch
)

// StatisticKind names how a Distribution's samples should be summarized by
// a downstream sink that cannot carry raw samples.
type StatisticKind uint8

const (
	StatisticHistogram StatisticKind = iota
	StatisticSummary
)

// Sample is one (value, weight) pair of a Distribution metric.
type Sample struct {
	Value float64
	Rate  uint32
}

// HistogramBucket is one bucket of an AggregatedHistogram.
type HistogramBucket struct {
	UpperLimit float64
	Count      uint64
}

// QuantileValue is one (quantile, value) pair of an AggregatedSummary.
type QuantileValue struct {
	Quantile float64
	Value    float64
}

// MetricValue is the tagged union of the seven metric value shapes.
type MetricValue struct {
	kind MetricValueKind

	counter float64
	gauge   float64
	set     map[string]struct{}

	samples   []Sample
	statistic StatisticKind

	buckets []HistogramBucket
	hCount  uint64
	hSum    float64

	quantiles []QuantileValue
	sCount    uint64
	sSum      float64

	sketch *ddsketch.DDSketch
}

func (v MetricValue) Kind() MetricValueKind { return v.kind }

func CounterValue(v float64) MetricValue { return MetricValue{kind: MetricCounter, counter: v} }
func GaugeValue(v float64) MetricValue   { return MetricValue{kind: MetricGauge, gauge: v} }

func SetValue(members ...string) MetricValue {
	m := make(map[string]struct{}, len(members))
	for _, s := range members {
		m[s] = struct{}{}
	}
	return MetricValue{kind: MetricSet, set: m}
}

func DistributionValue(statistic StatisticKind, samples ...Sample) MetricValue {
	return MetricValue{kind: MetricDistribution, statistic: statistic, samples: append([]Sample(nil), samples...)}
}

func AggregatedHistogramValue(count uint64, sum float64, buckets ...HistogramBucket) MetricValue {
	return MetricValue{
		kind:    MetricAggregatedHistogram,
		buckets: append([]HistogramBucket(nil), buckets...),
		hCount:  count,
		hSum:    sum,
	}
}

func AggregatedSummaryValue(count uint64, sum float64, quantiles ...QuantileValue) MetricValue {
	return MetricValue{
		kind:      MetricAggregatedSummary,
		quantiles: append([]QuantileValue(nil), quantiles...),
		sCount:    count,
		sSum:      sum,
	}
}

func SketchValue(s *ddsketch.DDSketch) MetricValue {
	return MetricValue{kind: MetricSketch, sketch: s}
}

func (v MetricValue) Counter() (float64, bool) { return v.counter, v.kind == MetricCounter }
func (v MetricValue) Gauge() (float64, bool)   { return v.gauge, v.kind == MetricGauge }
func (v MetricValue) Set() (map[string]struct{}, bool) {
	return v.set, v.kind == MetricSet
}
func (v MetricValue) Distribution() ([]Sample, StatisticKind, bool) {
	return v.samples, v.statistic, v.kind == MetricDistribution
}
func (v MetricValue) AggregatedHistogram() ([]HistogramBucket, uint64, float64, bool) {
	return v.buckets, v.hCount, v.hSum, v.kind == MetricAggregatedHistogram
}
func (v MetricValue) AggregatedSummary() ([]QuantileValue, uint64, float64, bool) {
	return v.quantiles, v.sCount, v.sSum, v.kind == MetricAggregatedSummary
}
func (v MetricValue) Sketch() (*ddsketch.DDSketch, bool) {
	return v.sketch, v.kind == MetricSketch
}
