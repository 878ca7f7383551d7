// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BufferConfig selects the channel variant feeding one consumer: the
// default bounded in-memory channel, or a durable disk buffer for
// edges that must survive a crash.
type BufferConfig struct {
	Type string `json:"type"` // "memory" or "disk"
	// MaxBytes caps a disk buffer's total footprint; 0 means unbounded
	// aside from the per-file cap.
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// ComponentConfig configures one node: the builder kind, the node's inputs
// (transforms and sinks only), the input channel variant, and the
// kind-specific options blob handed to the builder untouched.
type ComponentConfig struct {
	Kind    string          `json:"kind"`
	Inputs  []string        `json:"inputs,omitempty"`
	Buffer  *BufferConfig   `json:"buffer,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Config is one complete graph description. Reload compares two of these.
type Config struct {
	// ChannelCapacity bounds each inter-component channel in batches; 0
	// means the default of 64.
	ChannelCapacity int `json:"channel_capacity,omitempty"`

	// DataDir roots disk-backed channel buffers
	// (<data_dir>/buffer/v2/<consumer>); required only when some component
	// declares a disk buffer.
	DataDir string `json:"data_dir,omitempty"`

	Sources    map[string]ComponentConfig `json:"sources"`
	Transforms map[string]ComponentConfig `json:"transforms"`
	Sinks      map[string]ComponentConfig `json:"sinks"`
}

const defaultChannelCapacity = 64

func (c *Config) channelCapacity() int {
	if c.ChannelCapacity > 0 {
		return c.ChannelCapacity
	}
	return defaultChannelCapacity
}

// inputRef is one parsed input reference: a producer name plus the named
// output on it ("" is the default output). The textual form is
// "producer" or "producer.output".
type inputRef struct {
	component string
	output    string
}

func parseInputRef(s string) inputRef {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return inputRef{component: s[:i], output: s[i+1:]}
	}
	return inputRef{component: s, output: DefaultOutput}
}

func (r inputRef) String() string {
	if r.output == DefaultOutput {
		return r.component
	}
	return r.component + "." + r.output
}

// equalComponent reports whether two component configs are identical,
// comparing the options blob bytewise; reload uses this to decide which
// running components must restart.
func equalComponent(a, b ComponentConfig) bool {
	if a.Kind != b.Kind || len(a.Inputs) != len(b.Inputs) {
		return false
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] {
			return false
		}
	}
	if (a.Buffer == nil) != (b.Buffer == nil) {
		return false
	}
	if a.Buffer != nil && *a.Buffer != *b.Buffer {
		return false
	}
	return string(a.Options) == string(b.Options)
}

// names returns every component name in the config, used for duplicate
// detection across the three sections.
func (c *Config) names() map[string]string {
	out := make(map[string]string)
	for name := range c.Sources {
		out[name] = "source"
	}
	for name := range c.Transforms {
		if prev, ok := out[name]; ok {
			out[name] = prev + "+transform"
		} else {
			out[name] = "transform"
		}
	}
	for name := range c.Sinks {
		if prev, ok := out[name]; ok {
			out[name] = prev + "+sink"
		} else {
			out[name] = "sink"
		}
	}
	return out
}

func duplicateNameError(names map[string]string) error {
	for name, role := range names {
		if strings.ContainsRune(role, '+') {
			return fmt.Errorf("pipeline: component name %q used by more than one section (%s)", name, role)
		}
	}
	return nil
}
