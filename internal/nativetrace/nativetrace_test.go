// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nativetrace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
	"github.com/ClusterCockpit/cc-stackprof/pkg/stacktree"
)

func TestCallReturnFoldsSyntheticFrame(t *testing.T) {
	tree := stacktree.New()
	var clock int64
	now := func() int64 { v := clock; return v }

	tr := New(tree, nil, now, 1000, 0.8)

	chain := host.FrameChain{
		{Filename: "main.go", Name: "main.caller", FirstLine: 7, CurrentLine: 7},
	}
	require.NoError(t, tr.Call(1, "fastmul", "mathnative", chain))

	clock = 10_000_000 // 10ms later
	ok := tr.Return(1, "MainThread")
	require.True(t, ok)

	dump := tree.Dumps()
	require.Contains(t, dump, "MainThread;main.go:main.caller:7;mathnative:fastmul:0")
}

func TestReturnWithoutCallReturnsFalse(t *testing.T) {
	tree := stacktree.New()
	tr := New(tree, nil, func() int64 { return 0 }, 1000, 0.8)
	require.False(t, tr.Return(99, "Worker"))
}

func TestSlotTableFillsUp(t *testing.T) {
	tree := stacktree.New()
	tr := New(tree, nil, func() int64 { return 0 }, 1000, 0.8)

	for i := 0; i < MaxThreadNum; i++ {
		require.NoError(t, tr.Call(int64(i), "f", "m", nil))
	}
	require.Equal(t, MaxThreadNum, tr.SlotCount())
	require.ErrorIs(t, tr.Call(int64(MaxThreadNum+1), "f", "m", nil), ErrSlotTableFull)
}

func TestWeightFromDurationDiscountsBelowOne(t *testing.T) {
	w := weightFromDuration(2000, 1000, 0.8)
	require.Equal(t, uint64(1), w) // floor(2000/1000*0.8) = floor(1.6) = 1
}

func TestWeightFromDurationZeroOnTinyDuration(t *testing.T) {
	w := weightFromDuration(100, 1000, 0.8)
	require.Equal(t, uint64(0), w)
}

func TestReturnDropsZeroWeightSamplesSilently(t *testing.T) {
	tree := stacktree.New()
	var clock int64
	now := func() int64 { return clock }
	tr := New(tree, nil, now, 1_000_000, 0.8)

	chain := host.FrameChain{{Filename: "main.go", Name: "f", FirstLine: 1, CurrentLine: 1}}
	require.NoError(t, tr.Call(1, "n", "m", chain))
	clock = 1 // far too short to produce non-zero weight
	require.True(t, tr.Return(1, "MainThread"))
	require.Equal(t, "", tree.Dumps())
}
