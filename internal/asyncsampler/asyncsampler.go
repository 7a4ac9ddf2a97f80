// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package asyncsampler implements the timer-driven variant of the
// profiler. spec.md §4.F describes this as a POSIX SIGPROF handler calling
// tick(signo, main_frame); SPEC_FULL.md §10 resolves the open question of
// how to express that in Go by driving Tick from a time.Ticker goroutine
// instead (Go offers no safe way to hook a custom signal handler into
// arbitrary goroutine execution). Tick keeps the reentrancy guard, the
// pre-allocated format buffer, and the no-logging rule; it is not
// allocation-free (see foldFrame).
package asyncsampler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClusterCockpit/cc-stackprof/pkg/frame"
	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
	"github.com/ClusterCockpit/cc-stackprof/pkg/stacktree"
)

// SignalSafeHost is the subset of host.Host the async path is allowed to
// call from inside Tick: the direct-read thread registry and frame
// snapshot, never the allocating Enumerate/ScheduleOnMain surface.
type SignalSafeHost interface {
	Active() map[int64]string
	CurrentFrames() map[int64]host.FrameChain
}

// AsyncSampler drives sampling from a ticker goroutine rather than a
// synchronous worker loop, structured around a single reentrancy-guarded
// Tick entry point per spec.md §4.F. It takes the same frame.Filters as
// internal/sampler.Sampler, but keeps none of its sampling counters
// (sampling times, accumulated sampling time, life time); it records only
// StartTime and EndTime.
type AsyncSampler struct {
	h    SignalSafeHost
	tree *stacktree.StackTree

	ticking atomic.Bool // reentrancy guard: tick-in-progress
	running atomic.Bool

	mu         sync.Mutex
	samplingTID int64
	startTime   time.Time
	endTime     time.Time
	interval    time.Duration
	filt        *frame.Filters

	stop chan struct{}
	wg   sync.WaitGroup

	// buf is the pre-allocated 16 KiB format buffer spec.md §4.F requires;
	// it is only ever touched from inside Tick, which the reentrancy guard
	// ensures never runs concurrently with itself.
	buf []byte

	// cache memoizes the filter/label decision per code object so a tick
	// re-sampling the same hot frames doesn't re-run the filter pipeline
	// and re-concatenate the same label on every interval.
	cache *frame.DecisionCache
}

// New returns an AsyncSampler reading frames from h. filt may be nil,
// meaning no filtering.
func New(h SignalSafeHost, filt *frame.Filters) *AsyncSampler {
	return &AsyncSampler{
		h:     h,
		tree:  stacktree.New(),
		filt:  filt,
		buf:   make([]byte, 16*1024),
		cache: frame.NewDecisionCache(0),
	}
}

// SamplingTID is the read/write thread id spec.md §6 lists for the async
// variant; Tick skips the Active thread with this id, so the sampler's own
// thread is never folded into the tree.
func (a *AsyncSampler) SamplingTID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samplingTID
}

func (a *AsyncSampler) SetSamplingTID(tid int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samplingTID = tid
}

// StartTime returns when the ticker goroutine was started.
func (a *AsyncSampler) StartTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTime
}

// EndTime returns when the ticker goroutine last stopped.
func (a *AsyncSampler) EndTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endTime
}

// Start begins calling Tick every interval on its own goroutine. The
// mainFrame callback is invoked once per tick to obtain the current main
// thread frame, matching spec.md §4.F's "the runtime's invocation of tick
// supplies the main thread's current frame directly".
func (a *AsyncSampler) Start(interval time.Duration, mainFrame func() *host.Frame) {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	a.interval = interval
	a.startTime = time.Now()
	a.mu.Unlock()

	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.loop(mainFrame)
}

// Stop halts the ticker goroutine and waits for any in-flight Tick to
// finish.
func (a *AsyncSampler) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.mu.Lock()
	a.endTime = time.Now()
	a.mu.Unlock()
}

func (a *AsyncSampler) loop(mainFrame func() *host.Frame) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			var mf *host.Frame
			if mainFrame != nil {
				mf = mainFrame()
			}
			a.Tick(mf)
		}
	}
}

// Tick is the signal-equivalent entry point: reentrancy-guarded, and
// performing no logging of its own. It does allocate: the host snapshots,
// the label formatting, and the tree insert all do (see foldFrame).
// mainFrame is the main thread's current frame, or nil if unavailable.
func (a *AsyncSampler) Tick(mainFrame *host.Frame) {
	if !a.ticking.CompareAndSwap(false, true) {
		return
	}
	defer a.ticking.Store(false)

	if !a.running.Load() {
		return
	}

	if mainFrame != nil {
		a.foldFrame("MainThread", host.FrameChain{mainFrame})
	}

	chains := a.h.CurrentFrames()
	for tid, name := range a.h.Active() {
		if tid == a.SamplingTID() {
			continue
		}
		chain, ok := chains[tid]
		if !ok {
			continue
		}
		if name == "" {
			name = "Thread"
		}
		a.foldFrame(name, chain)
	}
}

func (a *AsyncSampler) foldFrame(threadName string, chain host.FrameChain) {
	n, err := frame.FormatCached(chain, a.filt, a.buf, a.cache)
	if err != nil {
		// Dropped silently: Tick must never propagate an error or log,
		// per spec.md §7's async-signal-safety policy.
		return
	}
	if n == 0 {
		return
	}
	// frame.FormatCached writes the label into the pre-allocated a.buf, but
	// it allocates a root-first copy of the chain, and the string
	// conversion and StackTree.Insert below allocate as well. Only the
	// reentrancy guard and the no-logging rule hold here; the fold is not
	// allocation-free.
	a.tree.Insert(threadName+";"+string(a.buf[:n]), 1)
}

// Dumps renders the current tree as folded-stack text.
func (a *AsyncSampler) Dumps() string { return a.tree.Dumps() }

// Tree exposes the underlying tree for checkpointing; callers must Stop
// first if they require a consistent snapshot.
func (a *AsyncSampler) Tree() *stacktree.StackTree { return a.tree }
