package canon

import "testing"

func TestCanonicalizeEmpty(t *testing.T) {
	d := Canonicalize("")
	if d.Len() != 0 || d.GraphemeCount() != 0 {
		t.Errorf("empty input should yield empty doc, got len=%d graphemes=%d", d.Len(), d.GraphemeCount())
	}
	if d.Slice(0, 10) != "" {
		t.Error("slicing empty doc should return empty string")
	}
}

func TestCanonicalizeNFC(t *testing.T) {
	// "é" as e + combining acute must normalize to the single NFC codepoint,
	// so equal-looking inputs produce identical canonical text (and cache keys).
	decomposed := "café scene"
	composed := "café scene"

	a := Canonicalize(decomposed)
	b := Canonicalize(composed)
	if a.Text != b.Text {
		t.Errorf("NFC normalization mismatch: %q vs %q", a.Text, b.Text)
	}
}

func TestCanonicalizeLineEndings(t *testing.T) {
	d := Canonicalize("wide shot\r\nat dusk")
	if d.Text != "wide shot\nat dusk" {
		t.Errorf("CRLF not normalized: %q", d.Text)
	}
}

func TestGraphemeTableAcrossEmoji(t *testing.T) {
	// Family emoji is one grapheme cluster spanning many bytes.
	text := "a👨‍👩‍👧b"
	d := Canonicalize(text)

	if d.GraphemeCount() != 3 {
		t.Fatalf("expected 3 graphemes, got %d", d.GraphemeCount())
	}

	// Byte offset of "b" is 1 + len(emoji); its grapheme index must be 2.
	bOff := len(text) - 1
	if got := d.GraphemeIndex(bOff); got != 2 {
		t.Errorf("grapheme index of trailing rune: got %d, want 2", got)
	}
	// Any byte inside the emoji belongs to grapheme 1.
	if got := d.GraphemeIndex(3); got != 1 {
		t.Errorf("grapheme index inside emoji: got %d, want 1", got)
	}
}

func TestSliceRoundTrip(t *testing.T) {
	d := Canonicalize("A lone astronaut explores the station")
	start, end := 2, 16
	if got := d.Slice(start, end); got != "lone astronaut" {
		t.Errorf("Slice(%d,%d) = %q", start, end, got)
	}
}

func TestByteOffsetInverse(t *testing.T) {
	d := Canonicalize("néon sign 🎥 at night")
	for i := 0; i < d.GraphemeCount(); i++ {
		off := d.ByteOffset(i)
		if got := d.GraphemeIndex(off); got != i {
			t.Errorf("round trip failed at grapheme %d: offset %d maps back to %d", i, off, got)
		}
	}
	if d.ByteOffset(d.GraphemeCount()) != d.Len() {
		t.Error("past-the-end grapheme index should map to text length")
	}
}

func TestGraphemeIndexClamping(t *testing.T) {
	d := Canonicalize("abc")
	if d.GraphemeIndex(-5) != 0 {
		t.Error("negative offsets clamp to 0")
	}
	if d.GraphemeIndex(100) != 3 {
		t.Error("past-end offsets clamp to grapheme count")
	}
}
