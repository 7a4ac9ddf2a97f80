// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the on-disk JSON configuration for a
// profiler run: sampling interval, filter flags, regex patterns, and the
// optional debug HTTP surface and checkpoint schedule.
package config

import (
	"encoding/json"
	"fmt"
	"regexp"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schema is the JSON Schema every profiler config document is validated
// against before being decoded, mirroring how the teacher's memorystore
// config validates its own raw JSON before unmarshaling.
const schema = `{
    "type": "object",
    "description": "Configuration for the sampling call-stack profiler.",
    "properties": {
        "sampling-interval-us": {
            "description": "Interval in microseconds between sampling iterations.",
            "type": "integer",
            "minimum": 0
        },
        "debug": {
            "type": "boolean"
        },
        "ignore-frozen": {
            "type": "boolean"
        },
        "ignore-self": {
            "type": "boolean"
        },
        "tree-mode": {
            "type": "boolean"
        },
        "focus-mode": {
            "type": "boolean"
        },
        "trace-cfunction": {
            "type": "boolean"
        },
        "time-mode": {
            "type": "string",
            "enum": ["wall", "cpu"]
        },
        "native-discount": {
            "type": "number",
            "exclusiveMinimum": 0,
            "exclusiveMaximum": 1
        },
        "regex-patterns": {
            "type": "array",
            "items": {"type": "string"}
        },
        "async": {
            "description": "Configuration for the ticker-driven asynchronous sampler.",
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "interval-us": {"type": "integer", "minimum": 0}
            }
        },
        "checkpoint": {
            "description": "Periodic tree-snapshot persistence.",
            "type": "object",
            "properties": {
                "interval": {"type": "string"},
                "directory": {"type": "string"},
                "format": {"type": "string", "enum": ["text", "avro"]}
            }
        },
        "debug-server": {
            "description": "Debug/introspection HTTP surface.",
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "address": {"type": "string"}
            }
        },
        "gops": {
            "description": "Expose a gops-compatible diagnostics agent.",
            "type": "boolean"
        }
    }
}`

// Keys is the decoded, validated configuration document for the current
// process, populated by Load.
var Keys Document

// Document is the on-disk shape of a profiler configuration file.
type Document struct {
	SamplingIntervalUs int64    `json:"sampling-interval-us"`
	Debug              bool     `json:"debug"`
	IgnoreFrozen       bool     `json:"ignore-frozen"`
	IgnoreSelf         bool     `json:"ignore-self"`
	TreeMode           bool     `json:"tree-mode"`
	FocusMode          bool     `json:"focus-mode"`
	TraceCfunction     bool     `json:"trace-cfunction"`
	TimeMode           string   `json:"time-mode"`
	NativeDiscount     float64  `json:"native-discount"`
	RegexPatterns      []string `json:"regex-patterns"`

	Async struct {
		Enabled    bool  `json:"enabled"`
		IntervalUs int64 `json:"interval-us"`
	} `json:"async"`

	Checkpoint struct {
		Interval  string `json:"interval"`
		Directory string `json:"directory"`
		Format    string `json:"format"`
	} `json:"checkpoint"`

	DebugServer struct {
		Enabled bool   `json:"enabled"`
		Address string `json:"address"`
	} `json:"debug-server"`

	Gops bool `json:"gops"`
}

// Validate compiles schema and validates instance against it, aborting the
// process on failure - the teacher's own internal/config.Validate does the
// same, on the grounds that a malformed config file should never lead to a
// partially-initialized profiler.
func Validate(instance json.RawMessage) {
	sch, err := jsonschema.CompileString("cc-stackprof-config.json", schema)
	if err != nil {
		cclog.Fatalf("%#v", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		cclog.Fatal(err)
	}

	if err := sch.Validate(v); err != nil {
		cclog.Fatalf("%#v", err)
	}
}

// Load validates and decodes raw into Keys, applying the documented
// defaults (10ms interval, wall-clock timing, 0.8 native discount) for any
// field the document omits.
func Load(raw json.RawMessage) error {
	Keys = Document{
		SamplingIntervalUs: 10_000,
		TimeMode:           "wall",
		NativeDiscount:     0.8,
	}
	if len(raw) == 0 {
		return nil
	}

	Validate(raw)
	if err := json.Unmarshal(raw, &Keys); err != nil {
		return fmt.Errorf("config: decoding document: %w", err)
	}
	if Keys.NativeDiscount <= 0 {
		Keys.NativeDiscount = 0.8
	}
	if Keys.TimeMode == "" {
		Keys.TimeMode = "wall"
	}
	return nil
}

// CompilePatterns compiles every pattern in patterns, failing
// fast on the first invalid one - this is a caller-invoked step, not part
// of Load, so call sites can decide how to report a bad pattern.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("config: invalid regex pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
