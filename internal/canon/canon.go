// Package canon normalizes prompt text to a single stable Unicode form and
// builds the byte-offset ↔ grapheme-cluster table every downstream span
// references. All span offsets in the system are byte offsets into the
// canonical text produced here; slicing the canonical text with a span's
// range must reproduce its quote exactly, including across combining
// characters and emoji.
package canon

import (
	"sort"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Doc is an immutable canonicalized document.
type Doc struct {
	// Text is the NFC-normalized text with normalized line endings.
	Text string

	// graphemes holds the starting byte offset of each grapheme cluster,
	// in ascending order.
	graphemes []int
}

// Canonicalize normalizes raw text and precomputes the grapheme table.
// Empty input yields an empty document; there is no failure mode.
func Canonicalize(raw string) Doc {
	if raw == "" {
		return Doc{}
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = norm.NFC.String(text)

	var starts []int
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		from, _ := g.Positions()
		starts = append(starts, from)
	}

	return Doc{Text: text, graphemes: starts}
}

// Len returns the byte length of the canonical text.
func (d Doc) Len() int { return len(d.Text) }

// GraphemeCount returns the number of grapheme clusters.
func (d Doc) GraphemeCount() int { return len(d.graphemes) }

// Slice returns the canonical substring for a half-open byte range.
// Out-of-range inputs are clamped rather than panicking; spans are
// validated against Slice by the merger before they escape the pipeline.
func (d Doc) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(d.Text) {
		end = len(d.Text)
	}
	if start >= end {
		return ""
	}
	return d.Text[start:end]
}

// GraphemeIndex converts a byte offset into the index of the grapheme
// cluster containing it. Offsets past the end map to GraphemeCount().
func (d Doc) GraphemeIndex(byteOff int) int {
	if byteOff <= 0 || len(d.graphemes) == 0 {
		return 0
	}
	if byteOff >= len(d.Text) {
		return len(d.graphemes)
	}
	// First grapheme starting after byteOff; the one before contains it.
	i := sort.SearchInts(d.graphemes, byteOff+1)
	return i - 1
}

// ByteOffset converts a grapheme index back to its starting byte offset.
// Indexes past the end map to the text length.
func (d Doc) ByteOffset(graphemeIdx int) int {
	if graphemeIdx < 0 {
		return 0
	}
	if graphemeIdx >= len(d.graphemes) {
		return len(d.Text)
	}
	return d.graphemes[graphemeIdx]
}
