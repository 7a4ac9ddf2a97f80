// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !windows

package clock

import "syscall"

// processCPUNanos sums user+system time for the whole process via
// getrusage(RUSAGE_SELF), available on every Unix Go targets.
func processCPUNanos() (int64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	user := ru.Utime.Sec*int64(1e9) + int64(ru.Utime.Usec)*int64(1e3)
	sys := ru.Stime.Sec*int64(1e9) + int64(ru.Stime.Usec)*int64(1e3)
	return user + sys, true
}
