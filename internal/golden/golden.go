// Package golden loads hand-labeled evaluation corpora. Ground-truth spans
// may be given as explicit offsets or as bare quoted text; bare text is
// resolved to offsets at load time, and any quote that cannot be resolved
// unambiguously fails the load. The integrity gate runs before a single
// model call is made: a broken corpus is a data bug, not a condition to
// route around.
package golden

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/span"
)

// IntegrityError reports a ground-truth span that could not be anchored in
// its prompt text. It fails the evaluation run immediately.
type IntegrityError struct {
	File   string
	Prompt string
	Quote  string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("golden set %s, prompt %q: span %q %s", e.File, e.Prompt, e.Quote, e.Reason)
}

// Label is one ground-truth span as written in the corpus file. Either
// Start/End or Quote must be set; Occurrence disambiguates a quote that
// appears more than once (1-based).
type Label struct {
	Start      *int          `json:"start,omitempty"`
	End        *int          `json:"end,omitempty"`
	Quote      string        `json:"quote,omitempty"`
	Category   span.Category `json:"category"`
	Occurrence int           `json:"occurrence,omitempty"`
}

// Prompt is one labeled example.
type Prompt struct {
	ID          string             `json:"id"`
	Text        string             `json:"text"`
	Context     span.PromptContext `json:"context,omitempty"`
	Labels      []Label            `json:"expected"`
	Adversarial bool               `json:"adversarial,omitempty"`

	// Resolved is populated by the loader: every label anchored to
	// canonical-text offsets.
	Resolved []span.Span `json:"-"`
	// Doc is the canonicalized prompt text.
	Doc canon.Doc `json:"-"`
	// File records which corpus the prompt came from.
	File string `json:"-"`
}

// Set is a merged, resolved corpus.
type Set struct {
	Prompts []Prompt
	Files   []string
}

type corpusFile struct {
	Version string   `json:"version,omitempty"`
	Prompts []Prompt `json:"prompts"`
}

// Load merges the given corpus files into one resolved set. Prompt IDs must
// be unique across files. Any unresolvable label aborts the load.
func Load(paths ...string) (*Set, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no golden set files given")
	}

	set := &Set{}
	seen := map[string]string{}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading golden set: %w", err)
		}
		var cf corpusFile
		if err := json.Unmarshal(raw, &cf); err != nil {
			return nil, fmt.Errorf("parsing golden set %s: %w", path, err)
		}

		base := filepath.Base(path)
		for _, p := range cf.Prompts {
			if p.ID == "" {
				return nil, fmt.Errorf("golden set %s: prompt with empty id", base)
			}
			if prev, dup := seen[p.ID]; dup {
				return nil, fmt.Errorf("golden set %s: prompt id %q already defined in %s", base, p.ID, prev)
			}
			seen[p.ID] = base

			p.File = base
			p.Doc = canon.Canonicalize(p.Text)
			resolved, err := resolveLabels(p)
			if err != nil {
				return nil, err
			}
			p.Resolved = resolved
			set.Prompts = append(set.Prompts, p)
		}
		set.Files = append(set.Files, base)
	}

	sort.SliceStable(set.Prompts, func(i, j int) bool {
		return set.Prompts[i].ID < set.Prompts[j].ID
	})
	return set, nil
}

// LoadDir loads every .json corpus in a directory.
func LoadDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading golden set dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .json golden set files in %s", dir)
	}
	sort.Strings(paths)
	return Load(paths...)
}

func resolveLabels(p Prompt) ([]span.Span, error) {
	resolved := make([]span.Span, 0, len(p.Labels))
	for _, l := range p.Labels {
		s, err := resolveLabel(p, l)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, s)
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Start < resolved[j].Start
	})
	return resolved, nil
}

func resolveLabel(p Prompt, l Label) (span.Span, error) {
	if !span.Known(l.Category) {
		return span.Span{}, &IntegrityError{
			File: p.File, Prompt: p.ID, Quote: l.Quote,
			Reason: fmt.Sprintf("has unknown category %q", l.Category),
		}
	}

	if l.Start != nil && l.End != nil {
		start, end := *l.Start, *l.End
		if start < 0 || end > p.Doc.Len() || start >= end {
			return span.Span{}, &IntegrityError{
				File: p.File, Prompt: p.ID, Quote: l.Quote,
				Reason: fmt.Sprintf("has out-of-range offsets [%d,%d)", start, end),
			}
		}
		quote := p.Doc.Slice(start, end)
		if l.Quote != "" && l.Quote != quote {
			return span.Span{}, &IntegrityError{
				File: p.File, Prompt: p.ID, Quote: l.Quote,
				Reason: fmt.Sprintf("does not match text %q at [%d,%d)", quote, start, end),
			}
		}
		return madeSpan(p.Doc, start, end, l.Category), nil
	}

	if l.Quote == "" {
		return span.Span{}, &IntegrityError{
			File: p.File, Prompt: p.ID, Quote: l.Quote,
			Reason: "has neither offsets nor quote",
		}
	}

	starts := occurrences(p.Doc.Text, l.Quote)
	switch {
	case len(starts) == 0:
		return span.Span{}, &IntegrityError{
			File: p.File, Prompt: p.ID, Quote: l.Quote,
			Reason: "not found in prompt text",
		}
	case len(starts) > 1 && l.Occurrence == 0:
		return span.Span{}, &IntegrityError{
			File: p.File, Prompt: p.ID, Quote: l.Quote,
			Reason: fmt.Sprintf("is ambiguous (%d occurrences, no occurrence index)", len(starts)),
		}
	}

	idx := 0
	if l.Occurrence > 0 {
		if l.Occurrence > len(starts) {
			return span.Span{}, &IntegrityError{
				File: p.File, Prompt: p.ID, Quote: l.Quote,
				Reason: fmt.Sprintf("occurrence %d out of range (%d found)", l.Occurrence, len(starts)),
			}
		}
		idx = l.Occurrence - 1
	}
	start := starts[idx]
	return madeSpan(p.Doc, start, start+len(l.Quote), l.Category), nil
}

// occurrences finds every non-overlapping exact match of needle.
func occurrences(text, needle string) []int {
	var starts []int
	off := 0
	for {
		i := strings.Index(text[off:], needle)
		if i < 0 {
			return starts
		}
		starts = append(starts, off+i)
		off += i + len(needle)
	}
}

func madeSpan(doc canon.Doc, start, end int, cat span.Category) span.Span {
	return span.Span{
		Start:         start,
		End:           end,
		StartGrapheme: doc.GraphemeIndex(start),
		Quote:         doc.Slice(start, end),
		Category:      cat,
	}
}
