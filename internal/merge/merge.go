// Package merge fuses candidate spans from all extraction sources into one
// ordered, non-overlapping, capped result. Resolution is fully
// deterministic: identical candidates always yield identical output, which
// the result cache and reproducible evaluation both depend on.
//
// Order of operations: validate → priority sort → greedy overlap accept →
// fragmentation repair → confidence filter → word-limit filter → cap.
// The cap runs after repair so repaired spans, not raw fragments, are
// subject to it; the pre-repair accepted set is preserved for the
// evaluation harness's fragmentation metric.
package merge

import (
	"sort"
	"strings"

	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/span"
)

// Result carries the merged spans plus the raw accepted set the evaluator
// measures fragmentation against.
type Result struct {
	// Spans is the final ordered, repaired, filtered, capped result.
	Spans []span.Span
	// RawAccepted is the accepted set before fragmentation repair and
	// before the cap, ordered by start offset.
	RawAccepted []span.Span
}

// Resolve merges candidates under the given policy. Candidates that fail
// structural validation or whose offsets do not slice the canonical text
// back to their quote are dropped up front.
func Resolve(cands []span.Span, doc canon.Doc, policy span.Policy) Result {
	valid := make([]span.Span, 0, len(cands))
	for _, c := range cands {
		if c.Validate() != nil {
			continue
		}
		if doc.Slice(c.Start, c.End) != c.Quote {
			continue
		}
		valid = append(valid, c)
	}

	// Stable sort by (priority desc, confidence desc, length desc); start
	// offset and category break remaining ties so candidate order never
	// leaks into the output.
	sort.SliceStable(valid, func(i, j int) bool {
		pi, pj := valid[i].Source.Priority(), valid[j].Source.Priority()
		if pi != pj {
			return pi > pj
		}
		if valid[i].Confidence != valid[j].Confidence {
			return valid[i].Confidence > valid[j].Confidence
		}
		if valid[i].Len() != valid[j].Len() {
			return valid[i].Len() > valid[j].Len()
		}
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].Category < valid[j].Category
	})

	// Greedy accept: a span joins the result only if it does not overlap
	// an already-accepted span, unless the policy allows overlap.
	var accepted []span.Span
	for _, c := range valid {
		if !policy.AllowOverlap && overlapsAny(c, accepted) {
			continue
		}
		accepted = append(accepted, c)
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].Start != accepted[j].Start {
			return accepted[i].Start < accepted[j].Start
		}
		return accepted[i].End < accepted[j].End
	})

	raw := span.Clone(accepted)

	repaired := repairFragments(accepted, doc)

	// Post-repair filters.
	filtered := repaired[:0:0]
	for _, s := range repaired {
		if s.Confidence < policy.MinConfidence {
			continue
		}
		if exceedsWordLimit(s, policy.NonTechnicalWordLimit) {
			continue
		}
		filtered = append(filtered, s)
	}

	filtered = capSpans(filtered, policy.MaxSpans)

	return Result{Spans: filtered, RawAccepted: raw}
}

func overlapsAny(c span.Span, accepted []span.Span) bool {
	for _, a := range accepted {
		if c.Overlaps(a) {
			return true
		}
	}
	return false
}

// repairFragments merges immediately-adjacent spans sharing a category into
// one span. Adjacency tolerates a single whitespace byte between fragments.
// The merged span keeps the higher-priority source and the maximum
// confidence of its parts.
func repairFragments(spans []span.Span, doc canon.Doc) []span.Span {
	if len(spans) < 2 {
		return span.Clone(spans)
	}

	out := make([]span.Span, 0, len(spans))
	cur := spans[0]
	for _, next := range spans[1:] {
		if next.Category == cur.Category && adjacent(cur, next, doc) {
			merged := span.Span{
				Start:         cur.Start,
				End:           next.End,
				StartGrapheme: cur.StartGrapheme,
				Quote:         doc.Slice(cur.Start, next.End),
				Category:      cur.Category,
				Confidence:    maxFloat(cur.Confidence, next.Confidence),
				Source:        higherPriority(cur.Source, next.Source),
				Explanation:   cur.Explanation,
			}
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// adjacent reports whether b starts where a ends, allowing one whitespace
// byte of separation.
func adjacent(a, b span.Span, doc canon.Doc) bool {
	gap := b.Start - a.End
	if gap < 0 || gap > 1 {
		return false
	}
	if gap == 1 {
		return strings.TrimSpace(doc.Slice(a.End, b.Start)) == ""
	}
	return true
}

// exceedsWordLimit applies the policy's non-technical word cap. Technical
// spans are exempt: "2.39:1 anamorphic widescreen" style tokens are dense
// but precise.
func exceedsWordLimit(s span.Span, limit int) bool {
	if limit <= 0 {
		return false
	}
	if span.ParentOrDefault(s.Category) == span.ParentTechnical {
		return false
	}
	return len(strings.Fields(s.Quote)) > limit
}

// capSpans truncates to the highest-value spans when over the limit, then
// restores positional order.
func capSpans(spans []span.Span, maxSpans int) []span.Span {
	if maxSpans <= 0 || len(spans) <= maxSpans {
		return spans
	}

	ranked := span.Clone(spans)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ranked[i].Source.Priority(), ranked[j].Source.Priority()
		if pi != pj {
			return pi > pj
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if ranked[i].Len() != ranked[j].Len() {
			return ranked[i].Len() > ranked[j].Len()
		}
		return ranked[i].Start < ranked[j].Start
	})
	ranked = ranked[:maxSpans]

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Start < ranked[j].Start })
	return ranked
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func higherPriority(a, b span.Source) span.Source {
	if b.Priority() > a.Priority() {
		return b
	}
	return a
}
