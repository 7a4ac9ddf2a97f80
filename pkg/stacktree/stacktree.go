// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stacktree implements the insertion-ordered, self-adjusting prefix
// tree that every sampled stack is folded into. A StackTree is not
// thread-safe on its own; callers (internal/sampler, internal/asyncsampler)
// are responsible for serializing inserts, dumps, and teardown the way
// spec.md §5 requires.
package stacktree

import (
	"bufio"
	"io"
	"strings"
)

// node is one frame label in the folded tree. Siblings form a singly-linked
// list rather than a map so that a node costs one string plus two counters
// plus two pointers - there is no per-node hashing overhead.
type node struct {
	name    string
	cnt     uint64
	accCnt  uint64
	child   *node
	sibling *node
}

// StackTree is a rooted prefix tree keyed on frame labels, weighted by
// sample count. The root itself is never emitted; it only anchors the first
// level of children.
type StackTree struct {
	root node
}

// New returns an empty StackTree ready for inserts.
func New() *StackTree {
	return &StackTree{root: node{name: "root"}}
}

// Insert folds one stack label ("Thread;frame0;frame1;...") into the tree
// with the given weight. Each node the walk passes through (the root and
// every ancestor of the leaf) gets `weight` added to acc_cnt before the walk
// descends; the leaf then gets `weight` added to both cnt and acc_cnt, once
// each, so acc_cnt(n) = cnt(n) + the sum of its children's acc_cnt holds.
func (t *StackTree) Insert(label string, weight uint64) {
	if label == "" || weight == 0 {
		return
	}

	cur := &t.root
	parts := strings.Split(label, ";")
	for _, part := range parts {
		cur.accCnt += weight
		cur = findOrInsertChild(cur, part)
	}
	cur.cnt += weight
	cur.accCnt += weight
}

// findOrInsertChild returns the child of `parent` named `name`, creating it
// if absent. While scanning the sibling list it applies the move-to-front
// heuristic: whenever a sibling's acc_cnt is less than the next sibling's,
// their payloads are swapped so that hotter paths drift toward the front of
// the list over time. The swap is evaluated before the name check on each
// pair, since by the time a node carrying the sought name is reached as
// `cur` it is too late for a swap pulling it past `prev` to still apply
// this call - the payload (and therefore the match) may have already moved
// to `prev`.
func findOrInsertChild(parent *node, name string) *node {
	if parent.child == nil {
		parent.child = &node{name: name}
		return parent.child
	}

	var prev *node
	cur := parent.child
	for cur != nil {
		if prev != nil && prev.accCnt < cur.accCnt {
			swapPayload(prev, cur)
		}
		if cur.name == name {
			return cur
		}
		if prev != nil && prev.name == name {
			// The swap above moved the sought payload to `prev`.
			return prev
		}
		prev = cur
		cur = cur.sibling
	}

	// Not found: create it after `prev` (equivalently, at the end).
	prev.sibling = &node{name: name}
	return prev.sibling
}

// swapPayload exchanges everything but the sibling pointer between two
// adjacent list nodes, which is how the source material implements
// move-to-front: by swapping payload fields rather than relinking nodes.
func swapPayload(a, b *node) {
	a.name, b.name = b.name, a.name
	a.cnt, b.cnt = b.cnt, a.cnt
	a.accCnt, b.accCnt = b.accCnt, a.accCnt
	a.child, b.child = b.child, a.child
}

// Dump writes the folded-stack text format (spec.md §6) to w: one line per
// leaf with cnt > 0, depth-first pre-order, no trailing newline after the
// last line.
func (t *StackTree) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	stack := make([]string, 0, 64)
	first := true
	var err error
	walk(t.root.child, &stack, func(path []string, cnt uint64) {
		if err != nil {
			return
		}
		if !first {
			_, err = bw.WriteString("\n")
			if err != nil {
				return
			}
		}
		first = false
		_, err = bw.WriteString(strings.Join(path, ";"))
		if err != nil {
			return
		}
		_, err = bw.WriteString(" ")
		if err != nil {
			return
		}
		_, err = bw.WriteString(uitoa(cnt))
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Dumps returns the folded-stack text format as a string.
func (t *StackTree) Dumps() string {
	var sb strings.Builder
	_ = t.Dump(&sb)
	return sb.String()
}

// walk performs the depth-first traversal described in spec.md §4.B: push
// name, recurse into the child chain, emit if cnt > 0, pop, then move on to
// the next sibling. It is iterative over siblings (a for loop, not
// recursion) so that very wide sibling lists do not grow the call stack;
// only genuine parent/child nesting recurses.
func walk(n *node, stack *[]string, emit func(path []string, cnt uint64)) {
	for n != nil {
		*stack = append(*stack, n.name)
		walk(n.child, stack, emit)
		if n.cnt > 0 {
			emit(*stack, n.cnt)
		}
		*stack = (*stack)[:len(*stack)-1]
		n = n.sibling
	}
}

// Free tears the tree down iteratively via an explicit worklist so that a
// very deep chain of nested calls cannot blow the goroutine's stack the way
// naive recursive destruction would. After Free, t is an empty tree again.
func (t *StackTree) Free() {
	var work []*node
	if t.root.child != nil {
		work = append(work, t.root.child)
	}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for n != nil {
			if n.child != nil {
				work = append(work, n.child)
			}
			next := n.sibling
			n.child = nil
			n.sibling = nil
			n = next
		}
	}
	t.root.child = nil
}

// AccCount returns the root's accumulated sample count, i.e. the total
// number of samples ever inserted into the tree.
func (t *StackTree) AccCount() uint64 {
	var total uint64
	for n := t.root.child; n != nil; n = n.sibling {
		total += n.accCnt
	}
	return total
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
