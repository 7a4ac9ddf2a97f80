// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package objstats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeObj struct {
	typ  string
	size int64
}

func (f fakeObj) TypeName() string { return f.typ }
func (f fakeObj) SizeBytes() int64 { return f.size }

type unsizedObj struct{ typ string }

func (u unsizedObj) TypeName() string { return u.typ }

func TestCollectCountsByType(t *testing.T) {
	objs := []Object{
		fakeObj{typ: "dict", size: 100},
		fakeObj{typ: "dict", size: 50},
		fakeObj{typ: "list", size: 10},
	}
	stats := Collect(objs, false)

	require.Equal(t, int64(3), stats.TotalObjects)
	require.Equal(t, int64(2), stats.TypeCounter["dict"])
	require.Equal(t, int64(1), stats.TypeCounter["list"])
	require.Nil(t, stats.TypeMemory)
	require.Zero(t, stats.TotalMemory)
}

func TestCollectWithMemoryAccumulates(t *testing.T) {
	objs := []Object{
		fakeObj{typ: "dict", size: 100},
		fakeObj{typ: "dict", size: 50},
		fakeObj{typ: "list", size: 10},
	}
	stats := Collect(objs, true)

	require.Equal(t, int64(150), stats.TypeMemory["dict"])
	require.Equal(t, int64(10), stats.TypeMemory["list"])
	require.Equal(t, int64(160), stats.TotalMemory)
}

func TestCollectSkipsSizeForUnsizedObjects(t *testing.T) {
	objs := []Object{unsizedObj{typ: "opaque"}}
	stats := Collect(objs, true)

	require.Equal(t, int64(1), stats.TypeCounter["opaque"])
	require.Zero(t, stats.TypeMemory["opaque"])
	require.Zero(t, stats.TotalMemory)
}

func TestCollectEmptyInput(t *testing.T) {
	stats := Collect(nil, true)
	require.Zero(t, stats.TotalObjects)
	require.Zero(t, stats.TotalMemory)
	require.Empty(t, stats.TypeCounter)
}
