// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package clock

// threadCPUNanos has no portable implementation outside of Linux's
// per-task /proc entries; every caller falls back to ProcessCPUNanos,
// exactly as spec.md §4.A requires.
func threadCPUNanos() (int64, bool) {
	return 0, false
}
