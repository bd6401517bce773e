package markdown

import "strings"

// OpType identifies a block diff operation.
type OpType string

// Diff operation types understood by the remote service's PATCH endpoint.
const (
	OpKeep    OpType = "keep"
	OpReplace OpType = "replace"
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
)

// Op is a single block-level edit. Index addresses the block position in the
// OLD document; Blocks carries the replacement or inserted content.
type Op struct {
	Type   OpType   `json:"type"`
	Index  int      `json:"index"`
	Count  int      `json:"count,omitempty"`
	Blocks []string `json:"blocks,omitempty"`
}

// Blocks splits canonical markdown into top-level blocks on blank lines.
// Fenced code blocks are kept whole even when they contain blank lines.
func Blocks(b []byte) []string {
	lines := strings.Split(strings.TrimRight(string(Canonicalize(b)), "\n"), "\n")

	var blocks []string

	var cur []string

	inFence := false

	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			cur = append(cur, line)

			continue
		}

		if line == "" && !inFence {
			flush()
			continue
		}

		cur = append(cur, line)
	}

	flush()

	return blocks
}

// Diff computes a minimal block-level edit script transforming old into new.
// It trims the common prefix and suffix and emits a single replace for the
// differing middle. The remote service applies the ops in order, so one
// contiguous replace keeps updates idempotent by content.
func Diff(old, updated []byte) []Op {
	oldBlocks := Blocks(old)
	newBlocks := Blocks(updated)

	prefix := 0
	for prefix < len(oldBlocks) && prefix < len(newBlocks) && oldBlocks[prefix] == newBlocks[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(oldBlocks)-prefix && suffix < len(newBlocks)-prefix &&
		oldBlocks[len(oldBlocks)-1-suffix] == newBlocks[len(newBlocks)-1-suffix] {
		suffix++
	}

	oldMid := len(oldBlocks) - prefix - suffix
	newMid := newBlocks[prefix : len(newBlocks)-suffix]

	var ops []Op

	if prefix > 0 {
		ops = append(ops, Op{Type: OpKeep, Index: 0, Count: prefix})
	}

	switch {
	case oldMid == 0 && len(newMid) == 0:
		// Identical documents.
	case oldMid == 0:
		ops = append(ops, Op{Type: OpInsert, Index: prefix, Blocks: newMid})
	case len(newMid) == 0:
		ops = append(ops, Op{Type: OpDelete, Index: prefix, Count: oldMid})
	default:
		ops = append(ops, Op{Type: OpReplace, Index: prefix, Count: oldMid, Blocks: newMid})
	}

	if suffix > 0 {
		ops = append(ops, Op{Type: OpKeep, Index: len(oldBlocks) - suffix, Count: suffix})
	}

	return ops
}
