// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stacktree

import (
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"
)

// avroSchema describes one flattened StackTree node: its own label
// component (not the whole path - ancestors are implied by `depth` and the
// emission order), its leaf count, its accumulated subtree count, and its
// depth from the root. This is the space-efficient flat encoding spec.md
// §4.B alludes to: unlike the text dump, ancestor names are never repeated.
const avroSchema = `{
	"type": "record",
	"name": "StackTreeNode",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "depth", "type": "int"},
		{"name": "cnt", "type": "long"},
		{"name": "acc_cnt", "type": "long"}
	]
}`

// EncodeAvro writes every node of the tree (not just cnt > 0 leaves) to w
// as an Avro object container file, in the same depth-first pre-order the
// text dump uses. It is the checkpoint format internal/checkpoint persists
// periodically, grounded in internal/memorystore/avroCheckpoint.go's use of
// goavro.NewOCFWriter.
func (t *StackTree) EncodeAvro(w io.Writer) error {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return fmt.Errorf("stacktree: compiling avro schema: %w", err)
	}

	ocfw, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: codec,
	})
	if err != nil {
		return fmt.Errorf("stacktree: creating OCF writer: %w", err)
	}

	var walkErr error
	encodeWalk(t.root.child, 0, func(n *node, depth int) {
		if walkErr != nil {
			return
		}
		rec := map[string]any{
			"name":    n.name,
			"depth":   int32(depth),
			"cnt":     int64(n.cnt),
			"acc_cnt": int64(n.accCnt),
		}
		walkErr = ocfw.Append([]any{rec})
	})
	return walkErr
}

func encodeWalk(n *node, depth int, emit func(n *node, depth int)) {
	for n != nil {
		emit(n, depth)
		encodeWalk(n.child, depth+1, emit)
		n = n.sibling
	}
}

// DecodeAvro rebuilds a StackTree from the encoding EncodeAvro produced.
// Siblings are appended in emission order (their relative weights are
// restored verbatim, not re-derived through move-to-front) so a
// decode(encode(t)) round trip reproduces t exactly, satisfying the dump
// round-trip property of spec.md §8.
func DecodeAvro(r io.Reader) (*StackTree, error) {
	ocfr, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("stacktree: creating OCF reader: %w", err)
	}

	tree := New()
	// stack[d] is the last node appended at depth d; the next node seen
	// at depth d becomes its sibling, and a node at depth d+1 becomes its
	// child.
	stack := []*node{&tree.root}

	for ocfr.Scan() {
		rec, err := ocfr.Read()
		if err != nil {
			return nil, fmt.Errorf("stacktree: reading avro record: %w", err)
		}
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stacktree: unexpected avro record shape %T", rec)
		}

		name, _ := m["name"].(string)
		depth := int(m["depth"].(int32))
		cnt := uint64(m["cnt"].(int64))
		accCnt := uint64(m["acc_cnt"].(int64))

		if depth+1 > len(stack) {
			return nil, fmt.Errorf("stacktree: non-contiguous depth %d (stack depth %d)", depth, len(stack)-1)
		}
		stack = stack[:depth+1]
		parent := stack[depth]

		n := &node{name: name, cnt: cnt, accCnt: accCnt}
		if parent.child == nil {
			parent.child = n
		} else {
			last := parent.child
			for last.sibling != nil {
				last = last.sibling
			}
			last.sibling = n
		}
		stack = append(stack, n)
	}

	return tree, nil
}
