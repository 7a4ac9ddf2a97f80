// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clock provides the three monotonic nanosecond clocks the sampler
// and tracer rely on for timing: wall-clock, per-thread CPU, and
// process-wide CPU. None of these ever fail; on any platform-level error
// they fall back to a coarser clock and, as a last resort, return 0.
package clock

import "time"

// epoch anchors WallNanos to time.Since's monotonic clock reading rather
// than time.Now().UnixNano(), which reports wall-clock time and can step
// backward across an NTP correction - unsuitable for a clock documented as
// never decreasing.
var epoch = time.Now()

// WallNanos returns a monotonic nanosecond timestamp suitable for measuring
// elapsed wall-clock durations across calls on the same thread. It is never
// decreasing between two calls on one goroutine.
func WallNanos() int64 {
	return int64(time.Since(epoch))
}

// WallMicros is WallNanos divided down to microsecond resolution, the unit
// the sampler's counters are kept in.
func WallMicros() int64 {
	return WallNanos() / int64(time.Microsecond)
}

// WallMillis is WallNanos divided down to millisecond resolution.
func WallMillis() int64 {
	return WallNanos() / int64(time.Millisecond)
}

// ThreadCPUNanos returns the calling OS thread's consumed CPU time in
// nanoseconds where the host platform exposes it, falling back to
// ProcessCPUNanos where it does not. Never fails: returns 0 rather than
// propagating an error.
func ThreadCPUNanos() int64 {
	if ns, ok := threadCPUNanos(); ok {
		return ns
	}
	return ProcessCPUNanos()
}

// ProcessCPUNanos returns the whole process's consumed CPU time (user +
// system) in nanoseconds. Falls back to 0 if the host does not expose
// resource usage accounting.
func ProcessCPUNanos() int64 {
	ns, ok := processCPUNanos()
	if !ok {
		return 0
	}
	return ns
}

// ThreadCPUMicros is ThreadCPUNanos at microsecond resolution.
func ThreadCPUMicros() int64 { return ThreadCPUNanos() / int64(time.Microsecond) }

// ProcessCPUMicros is ProcessCPUNanos at microsecond resolution.
func ProcessCPUMicros() int64 { return ProcessCPUNanos() / int64(time.Microsecond) }
