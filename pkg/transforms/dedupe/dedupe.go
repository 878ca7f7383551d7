// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dedupe drops events whose identity matches a recently seen prior
// event. Identity is a configured whitelist (match mode) or blacklist
// (ignore mode) of field paths; sightings live in a bounded LRU cache, so an
// identity evicted since its last sighting is treated as new — bounded
// memory is traded for perfect recall deliberately.
package dedupe

import (
	"encoding/json"
	"time"

	"github.com/flowvalet/flowvalet/pkg/event"
	"github.com/flowvalet/flowvalet/pkg/lrucache"
	"github.com/flowvalet/flowvalet/pkg/metrics"
	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Mode selects whether Fields whitelists the identity (match) or blacklists
// it (ignore).
type Mode string

const (
	ModeMatch  Mode = "match"
	ModeIgnore Mode = "ignore"
)

// DefaultCacheSize is the identity-cache capacity when the config leaves it
// unset.
const DefaultCacheSize = 5000

// cacheTTL is effectively "never": eviction is capacity-driven, not
// time-driven.
const cacheTTL = 10 * 365 * 24 * time.Hour

// Config configures one dedupe transform.
type Config struct {
	Mode      Mode     `json:"mode"`
	Fields    []string `json:"fields"`
	CacheSize int      `json:"cache_size,omitempty"`
}

// Transform is the dedupe policy transform. It is a function-flavour
// transform: pure, one event in, the same event or nothing out.
type Transform struct {
	mode   Mode
	paths  []event.Path
	ignore map[string]bool
	cache  *lrucache.Cache

	name string
	reg  *metrics.Registry
}

// New builds a dedupe transform from its config.
func New(cfg Config, reg *metrics.Registry) *Transform {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	t := &Transform{
		mode:  cfg.Mode,
		cache: lrucache.New(size),
		name:  "dedupe",
		reg:   reg,
	}
	if t.mode == "" {
		t.mode = ModeMatch
	}
	if t.mode == ModeIgnore {
		t.ignore = make(map[string]bool, len(cfg.Fields))
		for _, f := range cfg.Fields {
			t.ignore[f] = true
		}
	} else {
		for _, f := range cfg.Fields {
			t.paths = append(t.paths, event.ParseDotPath(f))
		}
	}
	return t
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

func (t *Transform) InputType() pipeline.DataType  { return pipeline.Logs | pipeline.Traces }
func (t *Transform) OutputType() pipeline.DataType { return pipeline.Logs | pipeline.Traces }

// TransformOne passes an event through on first sighting of its identity and
// drops it (returns nil) on a repeat sighting. The executor resolves dropped
// events' finalizers.
func (t *Transform) TransformOne(e *event.Event) *event.Event {
	key := t.identityKey(e)

	// Each cache entry costs 1 against a capacity-sized budget, turning the
	// byte-budgeted LRU into a fixed-capacity seen-set. The compute callback
	// only fires when the identity is absent, which is exactly the
	// first-sighting signal.
	firstSighting := false
	t.cache.Get(string(key), func() (any, time.Duration, int) {
		firstSighting = true
		return struct{}{}, cacheTTL, 1
	})
	if firstSighting {
		return e
	}
	t.reg.DedupeHits.WithLabelValues(t.name).Inc()
	return nil
}

// identityKey builds the type-tagged identity encoding. The per-value kind
// byte is what keeps Bytes("123") and Integer(123) from colliding: losing
// the type discriminant here would silently change which events count as
// duplicates.
func (t *Transform) identityKey(e *event.Event) []byte {
	var key []byte
	if t.mode == ModeMatch {
		for _, p := range t.paths {
			key = append(key, byte(len(p.String())))
			key = append(key, p.String()...)
			if v, ok := e.Get(p); ok {
				key = append(key, 1)
				key = v.AppendIdentityKey(key)
			} else {
				key = append(key, 0)
			}
		}
		return key
	}

	entries, _ := e.Fields.AsMap()
	for _, entry := range entries {
		if t.ignore[entry.Key] {
			continue
		}
		key = append(key, byte(len(entry.Key)))
		key = append(key, entry.Key...)
		key = entry.Value.AppendIdentityKey(key)
	}
	return key
}
