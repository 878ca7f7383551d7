// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cardinality bounds the number of distinct values admitted per
// metric tag key, protecting downstream time-series stores from tag
// explosions. Admission state is either an exact hash set or a Bloom filter;
// on overflow the offending tag is stripped (DropTag) or the whole metric is
// dropped (DropEvent). Limits are tracked per key independently.
package cardinality

import (
	"encoding/json"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/log"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// StorageMode selects the admission-tracking structure.
type StorageMode string

const (
	// StorageHashSet tracks admitted values exactly; memory grows with the
	// number and length of distinct values.
	StorageHashSet StorageMode = "hashset"
	// StorageBloom tracks admitted values approximately in constant memory
	// per key; a false positive admits a never-seen value (without
	// counting it against the limit) at the configured rate.
	StorageBloom StorageMode = "bloom"
)

// ExceedPolicy selects what happens to a metric carrying a value beyond the
// limit.
type ExceedPolicy string

const (
	DropTag   ExceedPolicy = "drop_tag"
	DropEvent ExceedPolicy = "drop_event"
)

// DefaultFalsePositiveRate is the Bloom mode's false-positive rate when the
// config leaves it unset.
const DefaultFalsePositiveRate = 1e-5

// Config configures one cardinality limiter.
type Config struct {
	ValueLimit        uint64       `json:"value_limit"`
	Mode              StorageMode  `json:"mode,omitempty"`
	Policy            ExceedPolicy `json:"policy,omitempty"`
	FalsePositiveRate float64      `json:"false_positive_rate,omitempty"`
}

// keyState tracks admissions for one tag key.
type keyState struct {
	admitted uint64
	set      map[string]struct{}
	filter   *bloom.BloomFilter
	warned   bool
}

// Transform is the tag-cardinality policy transform, a function-flavour
// transform over metrics.
type Transform struct {
	cfg Config

	mu   sync.Mutex
	keys map[string]*keyState

	name string
	reg  *metrics.Registry
}

// New builds a limiter from its config.
func New(cfg Config, reg *metrics.Registry) *Transform {
	if cfg.Mode == "" {
		cfg.Mode = StorageHashSet
	}
	if cfg.Policy == "" {
		cfg.Policy = DropTag
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = DefaultFalsePositiveRate
	}
	return &Transform{
		cfg:  cfg,
		keys: make(map[string]*keyState),
		name: "cardinality",
		reg:  reg,
	}
}

// Builder adapts New to the pipeline registry signature.
func Builder(options json.RawMessage, reg *metrics.Registry) (any, error) {
	var cfg Config
	if len(options) > 0 {
		if err := json.Unmarshal(options, &cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg, reg), nil
}

func (t *Transform) InputType() pipeline.DataType  { return pipeline.Metrics }
func (t *Transform) OutputType() pipeline.DataType { return pipeline.Metrics }

// TransformOne admits, strips, or drops one metric according to the
// per-key admission state.
func (t *Transform) TransformOne(e *event.Event) *event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rejectedKeys []string
	for _, tag := range e.Tags {
		if !t.admit(tag.Key, tag.Value) {
			rejectedKeys = append(rejectedKeys, tag.Key)
		}
	}
	if len(rejectedKeys) == 0 {
		return e
	}

	for _, key := range rejectedKeys {
		t.reg.CardinalityRejections.WithLabelValues(t.name, key).Inc()
		ks := t.keys[key]
		if !ks.warned {
			ks.warned = true
			log.Warnf("cardinality: tag %q exceeded value limit %d; %s policy in effect", key, t.cfg.ValueLimit, t.cfg.Policy)
		}
	}

	if t.cfg.Policy == DropEvent {
		return nil
	}
	for _, key := range rejectedKeys {
		e.Tags = e.Tags.Without(key)
	}
	return e
}

// admit reports whether value is within key's budget, recording it if so.
// A value already admitted never counts again; per-key budgets are fully
// independent of each other.
func (t *Transform) admit(key, value string) bool {
	ks, ok := t.keys[key]
	if !ok {
		ks = &keyState{}
		if t.cfg.Mode == StorageBloom {
			ks.filter = bloom.NewWithEstimates(uint(t.cfg.ValueLimit), t.cfg.FalsePositiveRate)
		} else {
			ks.set = make(map[string]struct{})
		}
		t.keys[key] = ks
	}

	if t.cfg.Mode == StorageBloom {
		if ks.filter.TestString(value) {
			return true
		}
		if ks.admitted >= t.cfg.ValueLimit {
			return false
		}
		ks.filter.AddString(value)
		ks.admitted++
		return true
	}

	if _, seen := ks.set[value]; seen {
		return true
	}
	if ks.admitted >= t.cfg.ValueLimit {
		return false
	}
	ks.set[value] = struct{}{}
	ks.admitted++
	return true
}
