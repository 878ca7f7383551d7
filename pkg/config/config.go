// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the router's JSON configuration
// document. The document is validated against an embedded JSON schema before
// it is decoded, so structural mistakes surface as schema errors with paths
// rather than as zero values deep inside a running pipeline. A .env overlay
// supplies secrets (broker credentials, object-store keys) that must not
// live in the config file itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowvalet/flowvalet/pkg/pipeline"
)

// Config is the whole immutable per-run configuration. Reload constructs a
// brand-new value and hands it to the component graph; nothing mutates a
// Config after Load returns it.
type Config struct {
	// Addr is the /metrics and /healthz listen address.
	Addr string `json:"addr"`

	// DataDir roots the disk-buffer directory tree
	// (<data-dir>/buffer/v2/<buffer-id>).
	DataDir string `json:"data_dir"`

	// GCPercent tunes the runtime garbage collector; 0 leaves the runtime
	// default in place.
	GCPercent int `json:"gc_percent,omitempty"`

	LogLevel    string `json:"loglevel,omitempty"`
	LogDateTime bool   `json:"log_date_time,omitempty"`

	Pipeline pipeline.Config `json:"pipeline"`
}

var defaults = Config{
	Addr:     ":8080",
	DataDir:  "./var",
	LogLevel: "warn",
}

// LoadDotEnv loads a .env overlay into the process environment before the
// config file is read. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Load reads, validates, and decodes the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse validates raw against the embedded schema and decodes it.
func Parse(raw json.RawMessage) (*Config, error) {
	if err := Validate(configSchema, raw); err != nil {
		return nil, err
	}
	cfg := defaults
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// Environment indirection for option values: a string of the form
	// "env:NAME" resolves to the variable's value, so credentials stay out
	// of the config file.
	resolveEnvRefs(&cfg)
	return &cfg, nil
}

// Validate checks instance against schema (a JSON Schema document string).
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("schema.json", schema)
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// resolveEnvRefs rewrites "env:NAME" strings inside every component's
// options blob.
func resolveEnvRefs(cfg *Config) {
	sections := []map[string]pipeline.ComponentConfig{
		cfg.Pipeline.Sources, cfg.Pipeline.Transforms, cfg.Pipeline.Sinks,
	}
	for _, section := range sections {
		for name, cc := range section {
			if len(cc.Options) == 0 {
				continue
			}
			var v any
			if err := json.Unmarshal(cc.Options, &v); err != nil {
				continue
			}
			resolved, changed := resolveAny(v)
			if !changed {
				continue
			}
			if out, err := json.Marshal(resolved); err == nil {
				cc.Options = out
				section[name] = cc
			}
		}
	}
}

func resolveAny(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		if len(x) > 4 && x[:4] == "env:" {
			return os.Getenv(x[4:]), true
		}
		return x, false
	case map[string]any:
		changed := false
		for k, e := range x {
			r, c := resolveAny(e)
			if c {
				x[k] = r
				changed = true
			}
		}
		return x, changed
	case []any:
		changed := false
		for i, e := range x {
			r, c := resolveAny(e)
			if c {
				x[i] = r
				changed = true
			}
		}
		return x, changed
	default:
		return v, false
	}
}
