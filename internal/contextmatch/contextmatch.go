// Package contextmatch locates caller-supplied prompt-context fields
// (subject, action, location, time, style) inside canonical text. Literal
// matches win at confidence 1.0; when the literal text is absent, a small
// synonym table is consulted at confidence 0.8. At runtime, the first
// occurrence wins; tooling that needs a specific occurrence uses
// MatchOccurrence.
package contextmatch

import (
	"fmt"
	"strings"

	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/span"
)

// synonymGroups holds sets of interchangeable phrasings. Lookup is
// symmetric: any member of a group stands in for any other.
var synonymGroups = [][]string{
	{"golden hour", "magic hour"},
	{"blue hour", "twilight"},
	{"night", "nighttime", "after dark"},
	{"dawn", "sunrise", "daybreak"},
	{"dusk", "sunset", "sundown"},
	{"astronaut", "cosmonaut", "spaceman"},
	{"automobile", "car"},
	{"woodland", "forest", "woods"},
	{"ocean", "sea"},
	{"city", "metropolis", "urban sprawl"},
	{"running", "sprinting"},
	{"walking", "strolling"},
	{"black and white", "monochrome"},
	{"slow motion", "slo-mo", "slow-mo"},
}

// synonyms maps a lowercase phrase to its variant phrasings.
var synonyms = buildSynonymTable()

func buildSynonymTable() map[string][]string {
	table := make(map[string][]string)
	for _, group := range synonymGroups {
		for _, member := range group {
			for _, other := range group {
				if other != member {
					table[member] = append(table[member], other)
				}
			}
		}
	}
	return table
}

// Match locates each non-empty context field in the canonical text and
// returns one span per resolvable field. Pure function over its inputs.
func Match(doc canon.Doc, pctx span.PromptContext) []span.Span {
	if doc.Len() == 0 || pctx.Empty() {
		return nil
	}

	var out []span.Span
	for _, field := range pctx.Fields() {
		if s, ok := matchField(doc, field); ok {
			out = append(out, s)
		}
	}
	return out
}

// matchField tries a literal case-insensitive search, then synonyms.
func matchField(doc canon.Doc, field span.ContextField) (span.Span, bool) {
	needle := strings.ToLower(strings.TrimSpace(field.Value))
	if needle == "" {
		return span.Span{}, false
	}

	if start, ok := findFirst(doc.Text, needle); ok {
		return makeSpan(doc, start, start+len(needle), field.Category, 1.0, span.SourceUserInput,
			fmt.Sprintf("literal match of %s context", field.Name)), true
	}

	for _, variant := range synonyms[needle] {
		if start, ok := findFirst(doc.Text, variant); ok {
			return makeSpan(doc, start, start+len(variant), field.Category, 0.8, span.SourceSemanticMatch,
				fmt.Sprintf("%q matched as variant of %s context %q", variant, field.Name, field.Value)), true
		}
	}

	return span.Span{}, false
}

// MatchOccurrence locates the nth (1-based) occurrence of value in the
// canonical text. Used by golden-set tooling and test fixtures where the
// first-occurrence default would be ambiguous.
func MatchOccurrence(doc canon.Doc, field span.ContextField, occurrence int) (span.Span, error) {
	needle := strings.ToLower(strings.TrimSpace(field.Value))
	if needle == "" {
		return span.Span{}, fmt.Errorf("empty context value for field %s", field.Name)
	}
	if occurrence < 1 {
		return span.Span{}, fmt.Errorf("occurrence must be 1-based, got %d", occurrence)
	}

	offsets := findAll(doc.Text, needle)
	if occurrence > len(offsets) {
		return span.Span{}, fmt.Errorf("occurrence %d of %q not found (%d occurrences)", occurrence, field.Value, len(offsets))
	}
	start := offsets[occurrence-1]
	return makeSpan(doc, start, start+len(needle), field.Category, 1.0, span.SourceUserInput,
		fmt.Sprintf("occurrence %d of %s context", occurrence, field.Name)), nil
}

// Occurrences counts case-insensitive occurrences of value in the text.
func Occurrences(doc canon.Doc, value string) int {
	return len(findAll(doc.Text, strings.ToLower(strings.TrimSpace(value))))
}

func findFirst(text, lowerNeedle string) (int, bool) {
	offsets := findAll(text, lowerNeedle)
	if len(offsets) == 0 {
		return 0, false
	}
	return offsets[0], true
}

// findAll returns the start offset of every non-overlapping occurrence.
// Case folding must not shift byte offsets; for the rare scripts where
// lowercasing changes byte length (e.g. U+0130), it degrades to an exact
// case-sensitive search rather than returning wrong offsets.
func findAll(text, lowerNeedle string) []int {
	if lowerNeedle == "" {
		return nil
	}
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		lower = text
	}
	var offsets []int
	from := 0
	for {
		idx := strings.Index(lower[from:], lowerNeedle)
		if idx < 0 {
			return offsets
		}
		offsets = append(offsets, from+idx)
		from += idx + len(lowerNeedle)
	}
}

func makeSpan(doc canon.Doc, start, end int, cat span.Category, conf float64, src span.Source, why string) span.Span {
	return span.Span{
		Start:         start,
		End:           end,
		StartGrapheme: doc.GraphemeIndex(start),
		Quote:         doc.Slice(start, end),
		Category:      cat,
		Confidence:    conf,
		Source:        src,
		Explanation:   why,
	}
}
