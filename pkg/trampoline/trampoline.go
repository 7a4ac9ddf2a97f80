// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trampoline implements the main-thread callback queue spec.md
// §4.H describes: other goroutines, including ones that must never block,
// enqueue work here, and whatever goroutine the
// embedder treats as "main" periodically calls Drain to run it.
package trampoline

import "errors"

// ErrQueueFull is returned by Schedule when the bounded queue has no room
// left. Callers on the hot path must treat this as "drop and move on", not
// retry - retrying from a signal-driven context risks blocking it.
var ErrQueueFull = errors.New("trampoline: queue is full")

// Trampoline is a bounded, non-blocking FIFO of callables meant to run on a
// single designated thread. It implements host.MainThreadScheduler.
type Trampoline struct {
	queue chan func()
}

// New returns a Trampoline whose queue holds at most capacity pending
// callbacks before Schedule starts returning ErrQueueFull.
func New(capacity int) *Trampoline {
	if capacity <= 0 {
		capacity = 64
	}
	return &Trampoline{queue: make(chan func(), capacity)}
}

// ScheduleOnMain implements host.MainThreadScheduler.
func (t *Trampoline) ScheduleOnMain(fn func()) error {
	return t.Schedule(fn)
}

// Schedule enqueues fn without blocking. It returns ErrQueueFull if the
// queue is already at capacity.
func (t *Trampoline) Schedule(fn func()) error {
	select {
	case t.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain runs every callback currently queued, in FIFO order, without
// blocking for callbacks scheduled after Drain was called. It must only be
// called from the designated main thread.
func (t *Trampoline) Drain() {
	for {
		select {
		case fn := <-t.queue:
			fn()
		default:
			return
		}
	}
}

// Len reports the number of callbacks currently queued.
func (t *Trampoline) Len() int {
	return len(t.queue)
}
