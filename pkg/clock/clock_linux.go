// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package clock

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// clockTicksPerSec is sysconf(_SC_CLK_TCK), which is 100 on every Linux
// platform Go supports. Hardcoding it avoids a cgo dependency for a value
// that has not changed in decades.
const clockTicksPerSec = 100

// threadCPUNanos reads utime+stime for the calling OS thread out of
// /proc/self/task/<tid>/stat. Returns ok=false on any parse or I/O failure
// so the caller can fall back to process CPU time.
func threadCPUNanos() (int64, bool) {
	tid := syscall.Gettid()
	data, err := os.ReadFile("/proc/self/task/" + strconv.Itoa(tid) + "/stat")
	if err != nil {
		return 0, false
	}

	// Field 2 is "(comm)" and may itself contain spaces/parens, so split
	// after the last ')' rather than naively on whitespace.
	end := strings.LastIndexByte(string(data), ')')
	if end < 0 || end+2 >= len(data) {
		return 0, false
	}
	fields := strings.Fields(string(data[end+2:]))
	// utime is field 14 overall, i.e. index 11 in `fields` (which starts
	// counting from field 3); stime is field 15, index 12.
	const utimeIdx, stimeIdx = 11, 12
	if len(fields) <= stimeIdx {
		return 0, false
	}
	utime, err1 := strconv.ParseInt(fields[utimeIdx], 10, 64)
	stime, err2 := strconv.ParseInt(fields[stimeIdx], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}

	ticks := utime + stime
	return ticks * int64(1e9) / clockTicksPerSec, true
}
