// Package span defines the core data model for visual control points:
// labeled substrings of a video-generation prompt that, if edited, would
// visibly change the rendered output. A span carries byte offsets into the
// canonical prompt text, a taxonomy category, a confidence score, and a
// provenance tag identifying which extraction source produced it.
package span

import "fmt"

// Source identifies which extraction stage produced a span.
type Source string

const (
	// SourceClosedVocab marks spans from the deterministic lexicon matcher.
	SourceClosedVocab Source = "closed-vocab"
	// SourceUserInput marks literal matches of caller-supplied context fields.
	SourceUserInput Source = "user-input"
	// SourceSemanticMatch marks synonym-table matches of context fields.
	SourceSemanticMatch Source = "semantic-match"
	// SourceOpenVocab marks spans returned by the model adapter.
	SourceOpenVocab Source = "open-vocab"
)

// Priority returns the merge priority of a source. Higher wins overlap
// resolution: context > closed-vocab > open-vocab.
func (s Source) Priority() int {
	switch s {
	case SourceUserInput, SourceSemanticMatch:
		return 3
	case SourceClosedVocab:
		return 2
	case SourceOpenVocab:
		return 1
	default:
		return 0
	}
}

// Span is a single visual control point.
//
// Invariants: Start < End, and canonical[Start:End] == Quote. Offsets are
// byte offsets into the canonical (NFC-normalized) text; StartGrapheme is
// the grapheme-cluster index of Start for UI callers that count characters.
type Span struct {
	Start         int      `json:"start"`
	End           int      `json:"end"`
	StartGrapheme int      `json:"start_grapheme"`
	Quote         string   `json:"quote"`
	Category      Category `json:"category"`
	Confidence    float64  `json:"confidence"`
	Source        Source   `json:"source"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two half-open ranges intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Validate checks the structural invariants that do not require the
// canonical text. Offset-against-text checks live in the merger, which
// has the canonical document in hand.
func (s Span) Validate() error {
	if s.Start < 0 || s.End <= s.Start {
		return fmt.Errorf("invalid span range [%d,%d)", s.Start, s.End)
	}
	if s.Quote == "" {
		return fmt.Errorf("span [%d,%d) has empty quote", s.Start, s.End)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("span %q confidence %.2f out of [0,1]", s.Quote, s.Confidence)
	}
	return nil
}

// Clone returns a copy of the span slice. Callers never receive shared
// backing arrays; every transform hands out fresh data.
func Clone(spans []Span) []Span {
	if spans == nil {
		return nil
	}
	out := make([]Span, len(spans))
	copy(out, spans)
	return out
}

// PromptContext carries optional caller-supplied structured fields that the
// context matcher prioritizes over everything else.
type PromptContext struct {
	Subject  string `json:"subject,omitempty"`
	Action   string `json:"action,omitempty"`
	Location string `json:"location,omitempty"`
	Time     string `json:"time,omitempty"`
	Style    string `json:"style,omitempty"`
}

// ContextField pairs a context field name with its value and the category
// spans matched from it should carry.
type ContextField struct {
	Name     string
	Value    string
	Category Category
}

// Fields returns the non-empty context fields in a fixed order.
// Order matters for determinism when fields overlap in the text.
func (c PromptContext) Fields() []ContextField {
	var out []ContextField
	add := func(name, value string, cat Category) {
		if value != "" {
			out = append(out, ContextField{Name: name, Value: value, Category: cat})
		}
	}
	add("subject", c.Subject, CategorySubject)
	add("action", c.Action, CategoryAction)
	add("location", c.Location, CategoryEnvironmentLocation)
	add("time", c.Time, CategoryEnvironmentTime)
	add("style", c.Style, CategoryStyle)
	return out
}

// Empty reports whether no context fields are set.
func (c PromptContext) Empty() bool {
	return c.Subject == "" && c.Action == "" && c.Location == "" && c.Time == "" && c.Style == ""
}
