// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package objstats implements the one-shot object-statistics pass spec.md
// §4.I describes: a single stable pass over a list of live objects that
// counts them by type name and, optionally, sums their reported size.
package objstats

// Object is anything the pass can introspect: a type name and, when size
// accounting is requested, a reported size in bytes. A real embedding
// would back this with its own object/value representation; this
// repository's tests back it with plain structs.
type Object interface {
	TypeName() string
}

// Sized is implemented by objects that can report their own size. Objects
// reaching Collect that do not implement Sized contribute zero bytes to
// the memory totals but still count toward type_counter.
type Sized interface {
	SizeBytes() int64
}

// Stats is the result of one Collect call: a stable, single-pass
// aggregation with no sorting or filtering applied, per spec.md §4.I.
type Stats struct {
	TypeCounter  map[string]int64
	TypeMemory   map[string]int64 // nil unless includeMemory was set
	TotalObjects int64
	TotalMemory  int64
}

// Collect iterates objs exactly once, incrementing TypeCounter[name] for
// each object and, when includeMemory is set, accumulating TypeMemory and
// TotalMemory from any object that implements Sized.
func Collect(objs []Object, includeMemory bool) Stats {
	stats := Stats{
		TypeCounter: make(map[string]int64),
	}
	if includeMemory {
		stats.TypeMemory = make(map[string]int64)
	}

	for _, obj := range objs {
		name := obj.TypeName()
		stats.TypeCounter[name]++
		stats.TotalObjects++

		if !includeMemory {
			continue
		}
		if sized, ok := obj.(Sized); ok {
			size := sized.SizeBytes()
			stats.TypeMemory[name] += size
			stats.TotalMemory += size
		}
	}

	return stats
}
