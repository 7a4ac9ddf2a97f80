// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsOnEmptyDocument(t *testing.T) {
	require.NoError(t, Load(nil))
	require.Equal(t, int64(10_000), Keys.SamplingIntervalUs)
	require.Equal(t, "wall", Keys.TimeMode)
	require.Equal(t, 0.8, Keys.NativeDiscount)
}

func TestLoadDecodesProvidedFields(t *testing.T) {
	raw := json.RawMessage(`{
        "sampling-interval-us": 5000,
        "focus-mode": true,
        "time-mode": "cpu",
        "regex-patterns": ["^main\\."]
    }`)
	require.NoError(t, Load(raw))
	require.Equal(t, int64(5000), Keys.SamplingIntervalUs)
	require.True(t, Keys.FocusMode)
	require.Equal(t, "cpu", Keys.TimeMode)
	require.Equal(t, []string{"^main\\."}, Keys.RegexPatterns)
}

func TestCompilePatternsRejectsInvalidRegex(t *testing.T) {
	_, err := CompilePatterns([]string{"(unclosed"})
	require.Error(t, err)
}

func TestCompilePatternsCompilesValidPatterns(t *testing.T) {
	compiled, err := CompilePatterns([]string{"^main\\.", "worker$"})
	require.NoError(t, err)
	require.Len(t, compiled, 2)
	require.True(t, compiled[0].MatchString("main.foo"))
	require.True(t, compiled[1].MatchString("some-worker"))
}
