// Package lexicon implements the closed-vocabulary matcher: a deterministic
// scan of canonical prompt text against a static lexicon of known technical,
// camera, lighting, and shot terms. Hits carry confidence 1.0 and need no
// model call. Overlapping hits resolve by longest-match-wins.
package lexicon

import (
	"regexp"
	"sort"

	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/span"
)

// termEntry is a literal lexicon term with its category.
type termEntry struct {
	term     string
	category span.Category
}

// patternEntry is a compiled regex pattern with its category.
type patternEntry struct {
	regex    *regexp.Regexp
	category span.Category
	name     string
}

// Matcher scans canonical text against the static lexicon.
type Matcher struct {
	terms    []*regexp.Regexp
	termCats []span.Category
	patterns []*patternEntry
}

// initTerms lists the literal vocabulary. Terms are matched
// case-insensitively on word boundaries.
func initTerms() []termEntry {
	return []termEntry{
		// Camera movement
		{"dolly zoom", span.CategoryCameraMovement},
		{"dolly in", span.CategoryCameraMovement},
		{"dolly out", span.CategoryCameraMovement},
		{"tracking shot", span.CategoryCameraMovement},
		{"crane shot", span.CategoryCameraMovement},
		{"whip pan", span.CategoryCameraMovement},
		{"pan left", span.CategoryCameraMovement},
		{"pan right", span.CategoryCameraMovement},
		{"tilt up", span.CategoryCameraMovement},
		{"tilt down", span.CategoryCameraMovement},
		{"handheld", span.CategoryCameraMovement},
		{"steadicam", span.CategoryCameraMovement},
		{"slow motion", span.CategoryCameraMovement},
		{"timelapse", span.CategoryCameraMovement},
		{"time-lapse", span.CategoryCameraMovement},

		// Camera angle / lens
		{"low angle", span.CategoryCameraAngle},
		{"high angle", span.CategoryCameraAngle},
		{"dutch angle", span.CategoryCameraAngle},
		{"bird's eye view", span.CategoryCameraAngle},
		{"birds eye view", span.CategoryCameraAngle},
		{"eye level", span.CategoryCameraAngle},
		{"anamorphic", span.CategoryCameraLens},
		{"fisheye", span.CategoryCameraLens},
		{"telephoto", span.CategoryCameraLens},
		{"wide-angle lens", span.CategoryCameraLens},
		{"macro lens", span.CategoryCameraLens},
		{"shallow depth of field", span.CategoryCameraLens},
		{"deep focus", span.CategoryCameraLens},
		{"rack focus", span.CategoryCameraLens},
		{"bokeh", span.CategoryCameraLens},

		// Shot framing
		{"extreme close-up", span.CategoryShotFraming},
		{"extreme close up", span.CategoryShotFraming},
		{"close-up", span.CategoryShotFraming},
		{"close up shot", span.CategoryShotFraming},
		{"medium shot", span.CategoryShotFraming},
		{"wide shot", span.CategoryShotFraming},
		{"extreme wide shot", span.CategoryShotFraming},
		{"establishing shot", span.CategoryShotFraming},
		{"aerial shot", span.CategoryShotFraming},
		{"over-the-shoulder", span.CategoryShotFraming},
		{"point of view shot", span.CategoryShotFraming},
		{"pov shot", span.CategoryShotFraming},
		{"two shot", span.CategoryShotFraming},
		{"full body shot", span.CategoryShotFraming},

		// Lighting
		{"golden hour", span.CategoryLightingTimeOfDay},
		{"magic hour", span.CategoryLightingTimeOfDay},
		{"blue hour", span.CategoryLightingTimeOfDay},
		{"volumetric lighting", span.CategoryLightingQuality},
		{"rim lighting", span.CategoryLightingDirection},
		{"backlit", span.CategoryLightingDirection},
		{"backlighting", span.CategoryLightingDirection},
		{"sidelit", span.CategoryLightingDirection},
		{"low-key lighting", span.CategoryLightingQuality},
		{"high-key lighting", span.CategoryLightingQuality},
		{"soft lighting", span.CategoryLightingQuality},
		{"hard lighting", span.CategoryLightingQuality},
		{"neon lighting", span.CategoryLightingQuality},
		{"candlelit", span.CategoryLightingQuality},
		{"moonlit", span.CategoryLightingQuality},
		{"chiaroscuro", span.CategoryLightingQuality},
		{"lens flare", span.CategoryLightingQuality},

		// Style
		{"film noir", span.CategoryStyleAesthetic},
		{"cyberpunk", span.CategoryStyleAesthetic},
		{"vaporwave", span.CategoryStyleAesthetic},
		{"stop motion", span.CategoryStyleAesthetic},
		{"stop-motion", span.CategoryStyleAesthetic},
		{"cel shaded", span.CategoryStyleAesthetic},
		{"photorealistic", span.CategoryStyleAesthetic},
		{"documentary style", span.CategoryStyleAesthetic},
		{"found footage", span.CategoryStyleAesthetic},
		{"technicolor", span.CategoryStyleColorGrade},
		{"desaturated", span.CategoryStyleColorGrade},
		{"sepia", span.CategoryStyleColorGrade},
		{"teal and orange", span.CategoryStyleColorGrade},
		{"black and white", span.CategoryStyleColorGrade},
		{"monochrome", span.CategoryStyleColorGrade},

		// Film stock / format words
		{"kodachrome", span.CategoryTechnicalFilmFormat},
		{"super 8", span.CategoryTechnicalFilmFormat},
		{"imax", span.CategoryTechnicalFilmFormat},
		{"vhs", span.CategoryTechnicalFilmFormat},
		{"film grain", span.CategoryTechnicalFilmFormat},
	}
}

// initPatterns lists the regex vocabulary for numeric/technical tokens.
func initPatterns() []*patternEntry {
	return []*patternEntry{
		// Frame rates: 24fps, 60 fps, 120fps
		{
			regex:    regexp.MustCompile(`(?i)\b\d{2,3}\s?fps\b`),
			category: span.CategoryTechnicalFrameRate,
			name:     "frame_rate",
		},
		// Film gauges: 8mm, 16mm, 35mm, 65mm, 70mm
		{
			regex:    regexp.MustCompile(`(?i)\b(?:8|16|35|65|70)mm\b`),
			category: span.CategoryTechnicalFilmFormat,
			name:     "film_gauge",
		},
		// Aspect ratios: 16:9, 2.39:1, 4:3
		{
			regex:    regexp.MustCompile(`\b\d{1,2}(?:\.\d{1,2})?:\d{1,2}(?:\.\d{1,2})?\b`),
			category: span.CategoryTechnicalAspectRatio,
			name:     "aspect_ratio",
		},
		// Apertures: f/1.4, f/22
		{
			regex:    regexp.MustCompile(`(?i)\bf/\d{1,2}(?:\.\d)?\b`),
			category: span.CategoryTechnicalAperture,
			name:     "aperture",
		},
		// Shutter speeds: 1/48s, 1/1000 sec
		{
			regex:    regexp.MustCompile(`(?i)\b1/\d{2,5}\s?s(?:ec)?\b`),
			category: span.CategoryTechnicalShutter,
			name:     "shutter",
		},
		// Resolutions: 4K, 8K, 1080p, 720p, 2160p
		{
			regex:    regexp.MustCompile(`(?i)\b(?:[48]k|\d{3,4}p)\b`),
			category: span.CategoryTechnicalResolution,
			name:     "resolution",
		},
	}
}

// NewMatcher compiles the static lexicon. The compiled matcher is immutable
// and safe for concurrent use.
func NewMatcher() *Matcher {
	terms := initTerms()
	m := &Matcher{
		terms:    make([]*regexp.Regexp, len(terms)),
		termCats: make([]span.Category, len(terms)),
		patterns: initPatterns(),
	}
	for i, t := range terms {
		m.terms[i] = compileTerm(t.term)
		m.termCats[i] = t.category
	}
	return m
}

// compileTerm builds a case-insensitive word-boundary regex for a literal.
func compileTerm(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// Match scans the canonical text and returns lexicon spans, ordered by
// start offset, with overlaps resolved longest-match-wins. Pure function:
// identical input always yields identical output.
func (m *Matcher) Match(doc canon.Doc) []span.Span {
	if doc.Len() == 0 {
		return nil
	}

	var hits []span.Span
	for i, re := range m.terms {
		for _, loc := range re.FindAllStringIndex(doc.Text, -1) {
			hits = append(hits, m.makeSpan(doc, loc[0], loc[1], m.termCats[i]))
		}
	}
	for _, p := range m.patterns {
		for _, loc := range p.regex.FindAllStringIndex(doc.Text, -1) {
			hits = append(hits, m.makeSpan(doc, loc[0], loc[1], p.category))
		}
	}

	return resolveLongest(hits)
}

func (m *Matcher) makeSpan(doc canon.Doc, start, end int, cat span.Category) span.Span {
	return span.Span{
		Start:         start,
		End:           end,
		StartGrapheme: doc.GraphemeIndex(start),
		Quote:         doc.Slice(start, end),
		Category:      cat,
		Confidence:    1.0,
		Source:        span.SourceClosedVocab,
	}
}

// resolveLongest keeps the longest span among overlapping lexicon hits.
// Ties break on earlier start, then category name for full determinism.
func resolveLongest(hits []span.Span) []span.Span {
	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Len() != hits[j].Len() {
			return hits[i].Len() > hits[j].Len()
		}
		if hits[i].Start != hits[j].Start {
			return hits[i].Start < hits[j].Start
		}
		return hits[i].Category < hits[j].Category
	})

	var accepted []span.Span
	for _, h := range hits {
		overlaps := false
		for _, a := range accepted {
			if h.Overlaps(a) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, h)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}
