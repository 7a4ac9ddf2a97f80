// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nativetrace implements the optional native-call tracer:
// spec.md §4.G's CALL/RETURN hook pair, a per-thread LIFO pending-call
// stack, and duration-weighted folding of returned calls into a
// stacktree.StackTree. A Tracer does not look at any sampler's enabled state
// or trace_cfunction flag: it records every Call and Return it is given.
package nativetrace

import (
	"errors"
	"math"
	"sync"

	"github.com/ClusterCockpit/cc-stackprof/pkg/frame"
	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
	"github.com/ClusterCockpit/cc-stackprof/pkg/stacktree"
)

// MaxThreadNum bounds the per-thread slot table, per spec.md §3.
const MaxThreadNum = 2048

// ErrSlotTableFull is returned by Call when a thread not already holding a
// slot tries to claim one after the table has filled, per spec.md §7's
// "resource exhaustion" error kind.
var ErrSlotTableFull = errors.New("nativetrace: per-thread slot table is full")

// pendingCall is one native-call node: spec.md §3's {native_fn_handle,
// frame_at_call, call_time_cpu_ns}, kept on a per-thread LIFO stack.
type pendingCall struct {
	nativeName string
	moduleName string
	frame      host.FrameChain
	callTimeNs int64
}

// slot is one thread's LIFO stack of pending native calls.
type slot struct {
	threadID int64
	stack    []pendingCall
}

// Tracer owns the slot table and the tree calls are folded into. now
// returns the current CPU (or wall) time in nanoseconds, matching
// whichever clock the owning sampler is configured for.
type Tracer struct {
	tree *stacktree.StackTree
	filt *frame.Filters
	now  func() int64

	intervalUs     int64
	nativeDiscount float64

	mu    sync.Mutex
	slots map[int64]*slot
}

// New returns a Tracer folding weighted native-call samples into tree.
// intervalUs is the sampler's configured sampling interval (used to scale
// duration into a sample-equivalent weight); discount must already have
// been validated to lie in (0, 1).
func New(tree *stacktree.StackTree, filt *frame.Filters, now func() int64, intervalUs int64, discount float64) *Tracer {
	return &Tracer{
		tree:           tree,
		filt:           filt,
		now:            now,
		intervalUs:     intervalUs,
		nativeDiscount: discount,
		slots:          make(map[int64]*slot, 64),
	}
}

func (t *Tracer) slotFor(threadID int64) (*slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[threadID]; ok {
		return s, nil
	}
	if len(t.slots) >= MaxThreadNum {
		return nil, ErrSlotTableFull
	}
	s := &slot{threadID: threadID}
	t.slots[threadID] = s
	return s, nil
}

// Call records a CALL event: a thread entering a native function. chain is
// the interpreter frame chain at the point of the call, leaf first.
func (t *Tracer) Call(threadID int64, nativeName, moduleName string, chain host.FrameChain) error {
	s, err := t.slotFor(threadID)
	if err != nil {
		return err
	}
	s.stack = append(s.stack, pendingCall{
		nativeName: nativeName,
		moduleName: moduleName,
		frame:      chain,
		callTimeNs: t.now(),
	})
	return nil
}

// Return records a RETURN event: the top pending call on threadID's slot
// is popped, its duration computed, and the result folded into the tree
// with a synthetic "<module>:<native>:0" frame inserted at the call site,
// per spec.md §4.G. Returns false if there was no matching pending call
// (a RETURN with no prior CALL, e.g. after StopTraceCfunction mid-call).
func (t *Tracer) Return(threadID int64, threadName string) bool {
	s, err := t.slotFor(threadID)
	if err != nil {
		return false
	}

	t.mu.Lock()
	if len(s.stack) == 0 {
		t.mu.Unlock()
		return false
	}
	call := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	t.mu.Unlock()

	durationUs := float64(t.now()-call.callTimeNs) / 1000.0
	weight := weightFromDuration(durationUs, t.intervalUs, t.nativeDiscount)
	if weight == 0 {
		return true
	}

	label, err := frame.Formats(t.withNativeFrame(call), t.filt)
	if err != nil || label == "" {
		return true
	}
	t.tree.Insert(threadName+";"+label, weight)
	return true
}

// withNativeFrame inserts a synthetic frame for the native function at the
// position of its owning interpreter frame, per spec.md §4.G.
func (t *Tracer) withNativeFrame(call pendingCall) host.FrameChain {
	synthetic := &host.Frame{
		Filename: call.moduleName,
		Name:     call.nativeName,
		CodeID:   0,
	}
	// chain is leaf first; the native call sits "inside" whatever frame was
	// leaf-most at call time, so it goes at the front.
	out := make(host.FrameChain, 0, len(call.frame)+1)
	out = append(out, synthetic)
	out = append(out, call.frame...)
	return out
}

func weightFromDuration(durationUs float64, intervalUs int64, discount float64) uint64 {
	if intervalUs <= 0 || durationUs <= 0 {
		return 0
	}
	w := math.Floor(durationUs / float64(intervalUs) * discount)
	if w <= 0 {
		return 0
	}
	return uint64(w)
}

// SlotCount reports how many threads currently hold a slot, for tests and
// diagnostics.
func (t *Tracer) SlotCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
