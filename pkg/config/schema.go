// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// configSchema is the JSON schema the configuration document is validated
// against before decoding. Component option blobs are deliberately left
// open ("options" is any object): each builder validates its own options,
// this schema only pins the graph structure.
const configSchema = `{
	"type": "object",
	"properties": {
		"addr": {
			"description": "Listen address for /metrics and /healthz.",
			"type": "string"
		},
		"data_dir": {
			"description": "Root directory for disk buffers.",
			"type": "string"
		},
		"gc_percent": {
			"description": "Go runtime GC target percentage; 0 keeps the runtime default.",
			"type": "integer",
			"minimum": 0
		},
		"loglevel": {
			"description": "Sets the logging level.",
			"type": "string",
			"enum": ["debug", "info", "warn", "err", "fatal", "crit"]
		},
		"log_date_time": {
			"description": "Add date and time to log messages.",
			"type": "boolean"
		},
		"pipeline": {
			"type": "object",
			"properties": {
				"channel_capacity": {
					"description": "Bound of each inter-component channel, in batches.",
					"type": "integer",
					"minimum": 1
				},
				"data_dir": {
					"description": "Root directory for disk-backed channel buffers; defaults to the top-level data_dir.",
					"type": "string"
				},
				"sources": {
					"type": "object",
					"additionalProperties": {"$ref": "#/$defs/component"}
				},
				"transforms": {
					"type": "object",
					"additionalProperties": {"$ref": "#/$defs/component"}
				},
				"sinks": {
					"type": "object",
					"additionalProperties": {"$ref": "#/$defs/component"}
				}
			},
			"required": ["sources", "sinks"]
		}
	},
	"required": ["pipeline"],
	"$defs": {
		"component": {
			"type": "object",
			"properties": {
				"kind": {"type": "string"},
				"inputs": {
					"type": "array",
					"items": {"type": "string"}
				},
				"buffer": {
					"type": "object",
					"properties": {
						"type": {"type": "string", "enum": ["memory", "disk"]},
						"max_bytes": {"type": "integer", "minimum": 0}
					},
					"required": ["type"]
				},
				"options": {"type": "object"}
			},
			"required": ["kind"]
		}
	}
}`
