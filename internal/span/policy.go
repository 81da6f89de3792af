package span

// Policy controls how candidate spans are filtered and merged.
type Policy struct {
	// NonTechnicalWordLimit caps the word count of non-technical spans.
	// Long prose spans are almost never actionable control points; technical
	// tokens ("24fps", "2.39:1 anamorphic") are exempt. 0 means unlimited.
	NonTechnicalWordLimit int `json:"non_technical_word_limit"`

	// AllowOverlap permits accepted spans to intersect. Off by default.
	AllowOverlap bool `json:"allow_overlap"`

	// MinConfidence drops accepted spans below this confidence.
	MinConfidence float64 `json:"min_confidence"`

	// MaxSpans truncates the final result. Applied after fragmentation
	// repair so repaired spans, not raw fragments, are subject to the cap.
	// 0 means unlimited.
	MaxSpans int `json:"max_spans"`

	// TemplateVersion selects the model prompt template and participates in
	// cache keys; bumping it invalidates every cached result.
	TemplateVersion string `json:"template_version"`
}

// DefaultTemplateVersion is the current model prompt template.
const DefaultTemplateVersion = "v2"

// DefaultPolicy returns the runtime defaults.
func DefaultPolicy() Policy {
	return Policy{
		NonTechnicalWordLimit: 6,
		AllowOverlap:          false,
		MinConfidence:         0.5,
		MaxSpans:              24,
		TemplateVersion:       DefaultTemplateVersion,
	}
}
