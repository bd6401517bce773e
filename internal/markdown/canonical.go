// Package markdown implements the document-format conversions the sync engine
// consumes as pure functions: canonical byte form, YAML frontmatter handling
// for database entries, block-level diffing, and title/filename mapping.
package markdown

import (
	"bytes"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize converts arbitrary markdown bytes into the canonical form used
// for hashing and file output: NFC-normalized UTF-8, LF line endings, no
// trailing whitespace on any line, exactly one trailing newline. The transform
// is idempotent, Canonicalize(Canonicalize(b)) == Canonicalize(b), which is
// what makes round-trip hash comparison stable across pull/write/read cycles.
func Canonicalize(b []byte) []byte {
	s := string(norm.NFC.Bytes(b))

	// Normalize line endings before splitting.
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}

	out := strings.Join(lines, "\n")
	out = strings.TrimRight(out, "\n")

	if out == "" {
		return []byte("\n")
	}

	return []byte(out + "\n")
}

// Equal reports whether two byte slices are identical under canonical form.
func Equal(a, b []byte) bool {
	return bytes.Equal(Canonicalize(a), Canonicalize(b))
}
