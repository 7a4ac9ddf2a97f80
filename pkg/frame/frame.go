// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package frame formats a host frame chain into the semicolon-delimited
// label spec.md §3 and §4.C define, applying the focus/self/regex/frozen
// filter pipeline in a fixed, documented order (spec.md §9, "Open question
// - filter pipeline ordering").
package frame

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
)

// ErrBufferOverflow is returned when the formatted label would not fit in
// the caller-supplied buffer. Per spec.md §4.C/§6 this is a hard failure:
// the sample is discarded, never silently truncated.
var ErrBufferOverflow = errors.New("frame: formatted stack would overflow buffer")

// Filters holds the formatter's filter configuration. A nil *Filters (or a
// zero value) means every frame is kept.
type Filters struct {
	// FocusMode skips frames whose filename contains "site-packages/" or
	// starts with StdlibPath.
	FocusMode bool
	// IgnoreSelf skips frames that belong to the profiler's own
	// extension/package or entrypoint script.
	IgnoreSelf bool
	// IgnoreFrozen skips frames whose filename starts with "<frozen".
	IgnoreFrozen bool
	// TreeMode selects the current line instead of the function's first
	// line, so distinct statements in the same function become distinct
	// tree nodes.
	TreeMode bool
	// Patterns, if non-empty, keeps only frames where the filename or the
	// frame name matches at least one pattern.
	Patterns []*regexp.Regexp
	// StdlibPath is the cached standard-library root used by FocusMode.
	StdlibPath string
	// SelfMarkers are the filename substrings IgnoreSelf skips.
	// internal/sampler sets them to "/cc-stackprof/" when its worker starts.
	SelfMarkers []string
}

// filterFunc reports whether a frame should be kept. Order matters: it is
// fixed at focus -> self -> regex -> frozen (SPEC_FULL.md §10.1) so that the
// pipeline is a single readable literal rather than implicit control flow.
type filterFunc func(f *host.Frame, filt *Filters) bool

var pipeline = []filterFunc{keepFocus, keepSelf, keepRegex, keepFrozen}

func keepFocus(f *host.Frame, filt *Filters) bool {
	if !filt.FocusMode {
		return true
	}
	if strings.Contains(f.Filename, "site-packages/") {
		return false
	}
	if filt.StdlibPath != "" && strings.HasPrefix(f.Filename, filt.StdlibPath) {
		return false
	}
	return true
}

func keepSelf(f *host.Frame, filt *Filters) bool {
	if !filt.IgnoreSelf {
		return true
	}
	for _, marker := range filt.SelfMarkers {
		if strings.Contains(f.Filename, marker) {
			return false
		}
	}
	return true
}

func keepRegex(f *host.Frame, filt *Filters) bool {
	if len(filt.Patterns) == 0 {
		return true
	}
	for _, re := range filt.Patterns {
		if re.MatchString(f.Filename) || re.MatchString(f.Name) {
			return true
		}
	}
	return false
}

func keepFrozen(f *host.Frame, filt *Filters) bool {
	if !filt.IgnoreFrozen {
		return true
	}
	return !strings.HasPrefix(f.Filename, "<frozen")
}

// keep applies the full pipeline in order; a frame is kept only if every
// filter keeps it.
func keep(f *host.Frame, filt *Filters) bool {
	if filt == nil {
		return true
	}
	for _, kf := range pipeline {
		if !kf(f, filt) {
			return false
		}
	}
	return true
}

// Format walks chain leaf-first as delivered, applies filt (nil means no
// filtering), and writes the root-first semicolon-joined label into buf.
// Returns the number of bytes written, or ErrBufferOverflow if buf is too
// small - the caller must discard the sample rather than truncate it.
func Format(chain host.FrameChain, filt *Filters, buf []byte) (int, error) {
	// chain is leaf-first; collect into root-first order before
	// formatting, per spec.md §4.C step 1-2.
	frames := make([]*host.Frame, len(chain))
	for i, f := range chain {
		frames[len(chain)-1-i] = f
	}

	n := 0
	first := true
	for _, f := range frames {
		if !keep(f, filt) {
			continue
		}

		line := f.FirstLine
		if filt != nil && filt.TreeMode {
			line = f.CurrentLine
		}

		label := f.Filename + ":" + frameName(f) + ":" + strconv.Itoa(line)
		need := len(label)
		if !first {
			need++ // separating ';'
		}
		if n+need > len(buf) {
			return 0, ErrBufferOverflow
		}
		if !first {
			buf[n] = ';'
			n++
		}
		n += copy(buf[n:], label)
		first = false
	}

	return n, nil
}

// Formats is Format but returns an allocated string; used off the hot path
// (synchronous sampler, tests) where the 16 KiB reusable buffer isn't
// warranted.
func Formats(chain host.FrameChain, filt *Filters) (string, error) {
	buf := make([]byte, 16*1024)
	n, err := Format(chain, filt, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// FormatCached is Format with per-frame filter/label memoization: each
// frame's keep decision and label component are looked up by CodeID in
// cache before being recomputed, so a tight signal-driven loop sampling the
// same hot code objects repeatedly does not re-run the filter pipeline or
// re-concatenate the same label string every tick. A nil cache disables
// memoization and behaves exactly like Format.
func FormatCached(chain host.FrameChain, filt *Filters, buf []byte, cache *DecisionCache) (int, error) {
	// TreeMode keys the label on the frame's *current* line, which changes
	// between calls for the same code object; a CodeID-keyed cache would
	// serve a stale line, so fall back to the uncached path instead.
	if cache == nil || (filt != nil && filt.TreeMode) {
		return Format(chain, filt, buf)
	}

	frames := make([]*host.Frame, len(chain))
	for i, f := range chain {
		frames[len(chain)-1-i] = f
	}

	n := 0
	first := true
	for _, f := range frames {
		d, ok := cache.Get(f.CodeID)
		if !ok {
			line := f.FirstLine
			if filt != nil && filt.TreeMode {
				line = f.CurrentLine
			}
			d = filterDecision{
				keep:  keep(f, filt),
				label: f.Filename + ":" + frameName(f) + ":" + strconv.Itoa(line),
			}
			if f.CodeID != 0 {
				cache.Put(f.CodeID, d)
			}
		}
		if !d.keep {
			continue
		}

		need := len(d.label)
		if !first {
			need++
		}
		if n+need > len(buf) {
			return 0, ErrBufferOverflow
		}
		if !first {
			buf[n] = ';'
			n++
		}
		n += copy(buf[n:], d.label)
		first = false
	}

	return n, nil
}

func frameName(f *host.Frame) string {
	if f.QualifiedName != "" {
		return f.QualifiedName
	}
	return f.Name
}
