// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
	"addr": ":9090",
	"data_dir": "/var/lib/flowvalet",
	"loglevel": "info",
	"pipeline": {
		"channel_capacity": 128,
		"sources": {
			"ingest": {
				"kind": "nats",
				"options": {"address": "nats://localhost:4222", "subject": "telemetry"}
			}
		},
		"transforms": {
			"limit": {
				"kind": "cardinality",
				"inputs": ["ingest"],
				"options": {"value_limit": 500}
			}
		},
		"sinks": {
			"archive": {
				"kind": "s3",
				"inputs": ["limit"],
				"buffer": {"type": "disk", "max_bytes": 1073741824},
				"options": {"bucket": "telemetry-archive"}
			}
		}
	}
}`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/var/lib/flowvalet", cfg.DataDir)
	assert.Equal(t, 128, cfg.Pipeline.ChannelCapacity)
	require.Contains(t, cfg.Pipeline.Sinks, "archive")
	sink := cfg.Pipeline.Sinks["archive"]
	require.NotNil(t, sink.Buffer)
	assert.Equal(t, "disk", sink.Buffer.Type)
	assert.Equal(t, int64(1073741824), sink.Buffer.MaxBytes)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"pipeline": {"sources": {}, "sinks": {}}}`))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./var", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{"pipeline": `},
		{"missing pipeline", `{"addr": ":8080"}`},
		{"missing sinks", `{"pipeline": {"sources": {}}}`},
		{"bad loglevel", `{"loglevel": "loud", "pipeline": {"sources": {}, "sinks": {}}}`},
		{"component without kind", `{"pipeline": {"sources": {"in": {"options": {}}}, "sinks": {}}}`},
		{"bad buffer type", `{"pipeline": {"sources": {}, "sinks": {"s": {"kind": "x", "buffer": {"type": "floppy"}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
		})
	}
}

func TestParseResolvesEnvRefs(t *testing.T) {
	t.Setenv("FLOWVALET_TEST_SECRET", "hunter2")

	cfg, err := Parse([]byte(`{
		"pipeline": {
			"sources": {},
			"sinks": {
				"out": {
					"kind": "nats",
					"options": {"password": "env:FLOWVALET_TEST_SECRET"}
				}
			}
		}
	}`))
	require.NoError(t, err)
	assert.Contains(t, string(cfg.Pipeline.Sinks["out"].Options), "hunter2")
}
