// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package goruntimehost is the reference host.Host implementation used by
// this repository's own tests and demo binary. It stands in for an
// embedding interpreter by parsing Go's own runtime.Stack(buf, true) dump,
// the closest native analogue Go offers to "enumerate every thread's
// current frame chain" - see SPEC_FULL.md's §4.D notes on why the
// synchronous/signal-safe split is honored in spirit rather than via a
// literal POSIX-signal-safety guarantee.
package goruntimehost

import (
	"bufio"
	"bytes"
	"fmt"
	"go/build"
	"hash/fnv"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
)

// Host parses goroutine dumps to satisfy host.Host. Goroutine ids stand in
// for the interpreter's thread ids; names are whatever has been registered
// via SetName, defaulting to "goroutine-<id>".
type Host struct {
	mu        sync.RWMutex
	names     map[int64]string
	stdlib    string
	mainQueue chan func()
}

// New returns a Host with a main-thread callback queue of the given
// capacity. With 0 the queue is unbuffered and, since neither
// ScheduleOnMain nor Drain waits, every ScheduleOnMain call fails.
func New(mainQueueCapacity int) *Host {
	return &Host{
		names:     make(map[int64]string),
		stdlib:    build.Default.GOROOT + "/src/",
		mainQueue: make(chan func(), mainQueueCapacity),
	}
}

// SetName registers a human name for a goroutine id, analogous to a
// Thread.setName() call in an embedding interpreter.
func (h *Host) SetName(goroutineID int64, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names[goroutineID] = name
}

func (h *Host) nameOf(id int64) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n, ok := h.names[id]; ok {
		return n
	}
	return "goroutine-" + strconv.FormatInt(id, 10)
}

// StdlibPath implements host.Host.
func (h *Host) StdlibPath() string { return h.stdlib }

// Enumerate implements host.Threads. It shells out to runtime.Stack to
// discover every live goroutine id, which is the "may allocate and take
// locks" enumeration spec.md §4.D describes for the synchronous path.
func (h *Host) Enumerate() map[int64]string {
	out := make(map[int64]string)
	for id := range h.dumpGoroutines() {
		out[id] = h.nameOf(id)
	}
	return out
}

// Active implements host.Threads' direct-read contract. On top of Go's
// runtime there is no cheaper registry to read than the same goroutine
// dump, so this and Enumerate share an implementation; a real interpreter
// embedding would instead read an already-maintained active-threads map.
func (h *Host) Active() map[int64]string { return h.Enumerate() }

// Limbo implements host.Threads. Go has no notion of a goroutine that
// exists but has not yet registered itself, so this is always empty.
func (h *Host) Limbo() map[int64]string { return map[int64]string{} }

// CurrentFrames implements host.Host by parsing a full goroutine dump into
// per-goroutine frame chains, leaf first.
func (h *Host) CurrentFrames() map[int64]host.FrameChain {
	return h.dumpGoroutines()
}

// ScheduleOnMain implements host.MainThreadScheduler by enqueuing fn; it
// returns immediately, with an error if the queue is full. The caller is
// responsible for running Drain on whatever goroutine it considers "main".
func (h *Host) ScheduleOnMain(fn func()) error {
	select {
	case h.mainQueue <- fn:
		return nil
	default:
		return fmt.Errorf("goruntimehost: main-thread queue full")
	}
}

// Drain invokes every callable currently queued by ScheduleOnMain, without
// blocking for ones queued afterward. It must be called from whichever
// goroutine the embedder has designated as "main".
func (h *Host) Drain() {
	for {
		select {
		case fn := <-h.mainQueue:
			fn()
		default:
			return
		}
	}
}

// dumpGoroutines grows a buffer until runtime.Stack's full dump fits, then
// parses it into per-goroutine frame chains.
func (h *Host) dumpGoroutines() map[int64]host.FrameChain {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseGoroutineDump(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseGoroutineDump parses the textual format produced by
// runtime.Stack(buf, true):
//
//	goroutine 7 [running]:
//	main.spin(...)
//		/path/to/main.go:42 +0x1a
//	...
func parseGoroutineDump(data []byte) map[int64]host.FrameChain {
	out := make(map[int64]host.FrameChain)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var curID int64
	var curChain host.FrameChain
	var pendingName string

	flush := func() {
		if curID != 0 {
			out[curID] = curChain
		}
	}

	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "goroutine ") {
			flush()
			curID = parseGoroutineID(line)
			curChain = nil
			pendingName = ""
			continue
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") {
			// source location line for the preceding function line
			filename, lineno := parseLocation(strings.TrimSpace(line))
			if pendingName != "" {
				curChain = append(curChain, &host.Frame{
					Filename:    filename,
					Name:        pendingName,
					FirstLine:   lineno,
					CurrentLine: lineno,
					CodeID:      codeID(filename, pendingName),
				})
				pendingName = ""
			}
			continue
		}
		// A function signature line, e.g. "main.spin(0x1, 0x2)"
		pendingName = functionName(line)
	}
	flush()
	return out
}

func functionName(line string) string {
	if idx := strings.IndexByte(line, '('); idx >= 0 {
		return line[:idx]
	}
	return line
}

func parseLocation(s string) (string, int) {
	// "/path/to/main.go:42 +0x1a" -> ("/path/to/main.go", 42)
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		s = s[:idx]
	}
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return s, 0
	}
	line, err := strconv.Atoi(s[colon+1:])
	if err != nil {
		return s[:colon], 0
	}
	return s[:colon], line
}

// codeID derives a stable per-code-object identity from a function's
// filename and qualified name, so the same function yields the same
// CodeID on every call regardless of its depth in the current goroutine
// dump or which goroutine it was sampled from. pkg/frame's DecisionCache
// keys its memoized keep/label decision on exactly this value, so a
// position-derived id would collide across unrelated functions sampled at
// the same stack depth on different ticks.
func codeID(filename, name string) uintptr {
	h := fnv.New64a()
	h.Write([]byte(filename))
	h.Write([]byte{0})
	h.Write([]byte(name))
	return uintptr(h.Sum64())
}

func parseGoroutineID(line string) int64 {
	// "goroutine 7 [running]:"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
