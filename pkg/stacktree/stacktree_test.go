// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stacktree

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleStackFolding(t *testing.T) {
	tree := New()
	for i := 0; i < 4; i++ {
		tree.Insert("main.py:hello:1;main.py:world:2", 1)
	}
	assert.Equal(t, "main.py:hello:1;main.py:world:2 4", tree.Dumps())
}

func TestDivergentSuffixes(t *testing.T) {
	tree := New()
	tree.Insert("a;b;c", 1)
	tree.Insert("a;b;c", 1)
	tree.Insert("a;b;d", 1)

	lines := strings.Split(tree.Dumps(), "\n")
	require.Len(t, lines, 2)

	var total uint64
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "a;b;"))
		parts := strings.Fields(line)
		require.Len(t, parts, 2)
		n, err := strconv.ParseUint(parts[1], 10, 64)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, uint64(3), total)
}

func TestMoveToFront(t *testing.T) {
	tree := New()
	for i := 0; i < 2; i++ {
		tree.Insert("a;x", 1)
	}
	tree.Insert("a;y", 1)
	tree.Insert("a;x", 1)
	for i := 0; i < 5; i++ {
		tree.Insert("a;y", 1)
	}

	lines := strings.Split(tree.Dumps(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "a;y 6", lines[0])
	assert.Equal(t, "a;x 3", lines[1])
}

func TestMultiThread(t *testing.T) {
	tree := New()
	tree.Insert("MainThread;main.py:foo:1", 1)
	tree.Insert("MainThread;main.py:foo:1", 1)
	tree.Insert("Worker;main.py:bar:2", 1)

	dump := tree.Dumps()
	assert.Contains(t, dump, "MainThread;main.py:foo:1 2")
	assert.Contains(t, dump, "Worker;main.py:bar:2 1")
}

func TestAccConsistency(t *testing.T) {
	tree := New()
	labels := []string{"a;b;c", "a;b;d", "a;e", "a;b;c", "f;g;h;i"}
	for _, l := range labels {
		tree.Insert(l, 1)
	}
	assertAccConsistent(t, &tree.root)
}

func assertAccConsistent(t *testing.T, n *node) uint64 {
	t.Helper()
	if n == nil {
		return 0
	}
	var childSum uint64
	for c := n.child; c != nil; c = c.sibling {
		childSum += assertAccConsistent(t, c)
	}
	want := n.cnt + childSum
	assert.Equal(t, want, n.accCnt, "acc_cnt mismatch for node %q", n.name)
	var siblingSum uint64
	for s := n.sibling; s != nil; s = s.sibling {
		siblingSum += s.accCnt
	}
	_ = siblingSum
	return n.accCnt
}

func TestDumpRoundTrip(t *testing.T) {
	tree := New()
	labels := []string{"a;b;c", "a;b;d", "a;b;c", "x;y", "x;y", "x;z"}
	for _, l := range labels {
		tree.Insert(l, 1)
	}

	dump := tree.Dumps()
	fresh := New()
	for _, line := range strings.Split(dump, "\n") {
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, " ")
		require.NotEqual(t, -1, idx)
		weight, err := strconv.ParseUint(line[idx+1:], 10, 64)
		require.NoError(t, err)
		fresh.Insert(line[:idx], weight)
	}

	assert.Equal(t, dump, fresh.Dumps())
}

func TestWeightedSumConservation(t *testing.T) {
	tree := New()
	labels := []string{"a;b", "a;c", "a;b", "a;d", "a;b"}
	var total uint64
	for _, l := range labels {
		tree.Insert(l, 2)
		total += 2
	}

	var sum uint64
	for _, line := range strings.Split(tree.Dumps(), "\n") {
		parts := strings.Fields(line)
		n, err := strconv.ParseUint(parts[len(parts)-1], 10, 64)
		require.NoError(t, err)
		sum += n
	}
	assert.Equal(t, total, sum)
}

func TestFreeIsIterativeAndIdempotent(t *testing.T) {
	tree := New()
	// Build a deep chain that would overflow the goroutine stack under
	// naive recursive destruction if Free ever regresses to recursion.
	var sb strings.Builder
	sb.WriteString("root")
	for i := 0; i < 200000; i++ {
		sb.WriteString(";f")
	}
	tree.Insert(sb.String(), 1)

	require.NotPanics(t, func() {
		tree.Free()
		tree.Free()
	})
	assert.Equal(t, "", tree.Dumps())
}

func TestEmptyTreeDumpsEmpty(t *testing.T) {
	tree := New()
	assert.Equal(t, "", tree.Dumps())
}
