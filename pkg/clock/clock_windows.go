// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build windows

package clock

// processCPUNanos has no getrusage(2) equivalent wired up here; callers see
// ok=false and ProcessCPUNanos returns 0, per spec.md §4.A's never-fail
// contract.
func processCPUNanos() (int64, bool) {
	return 0, false
}
