// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package host defines the contracts spec.md §6 requires an embedding
// runtime to provide: per-thread frame-chain snapshots, thread registry
// enumeration, native call/return hooks, and a main-thread callback queue.
// pkg/goruntimehost is the reference implementation built on Go's own
// runtime.Stack, used by tests and the demo binary; a real embedding (e.g.
// a CPython extension module communicating over cgo) would provide its
// own.
package host

// Frame is one activation record: a function name, its defining file, its
// first line, and the line currently executing. CodeID identifies the
// underlying code object so callers (pkg/frame's decision cache) can
// memoize per-code-object work without holding onto the frame itself.
type Frame struct {
	Filename      string
	Name          string
	QualifiedName string
	FirstLine     int
	CurrentLine   int
	CodeID        uintptr
}

// FrameChain is a thread's call stack at one instant, leaf (innermost call)
// first - the order a real interpreter hands it back in.
type FrameChain []*Frame

// Threads exposes both enumeration strategies spec.md §4.D requires: a
// synchronous, possibly-allocating full enumeration, and a direct read of
// the active/limbo registries meant to be safe to call without taking
// locks the sampled program might be holding.
type Threads interface {
	// Enumerate returns thread id -> human name for every known thread.
	// May allocate and take locks; only called off the hot, signal-driven
	// path.
	Enumerate() map[int64]string

	// Active returns thread id -> human name for running threads without
	// invoking user-level enumeration code.
	Active() map[int64]string
	// Limbo returns thread id -> human name for threads that have been
	// created but have not yet registered themselves, using the same
	// direct-read contract as Active.
	Limbo() map[int64]string
}

// NativeHooks lets the native-call tracer (internal/nativetrace) receive
// CALL/RETURN events for calls that leave the interpreter. Not every host
// can support this, so Host does not embed it; a host that can't simply
// does not implement it.
type NativeHooks interface {
	InstallProfileHook(fn func(event NativeEvent)) error
	UninstallProfileHook() error
}

// NativeEvent is one CALL or RETURN delivered by the host's profiling hook.
type NativeEvent struct {
	Kind       NativeEventKind
	ThreadID   int64
	Frame      *Frame
	NativeName string
	ModuleName string
}

// NativeEventKind distinguishes a call from a return in a NativeEvent.
type NativeEventKind int

const (
	NativeCall NativeEventKind = iota
	NativeReturn
)

// MainThreadScheduler is the host's half of pkg/trampoline's contract: a
// place that periodically drains callables queued from arbitrary threads
// and invokes them on the main thread. Hosts that expose their own native
// "run on main thread" primitive implement this directly; pkg/trampoline
// also ships a self-contained implementation for hosts that don't.
type MainThreadScheduler interface {
	ScheduleOnMain(fn func()) error
}

// Host is the full introspection contract spec.md §6 lists. Interfaces are
// split (Threads, NativeHooks, MainThreadScheduler) so a host that cannot
// support native-call interposition can still satisfy the rest by embedding
// only what it implements.
type Host interface {
	Threads
	MainThreadScheduler

	// CurrentFrames snapshots every thread's current frame chain. The
	// returned chains are leaf-first.
	CurrentFrames() map[int64]FrameChain

	// StdlibPath returns the cached standard-library root used by
	// focus-mode filtering. Looked up once and treated as read-only
	// thereafter, per spec.md §5.
	StdlibPath() string
}
