package openvocab

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/visioncue/visioncue/internal/canon"
)

// MockAdapter is a deterministic in-process adapter for tests and offline
// evaluation runs. It emulates a well-behaved model with a tiny heuristic:
// noun-ish phrases after articles become subject spans, "-ing" verbs become
// action spans, and a handful of injection markers trip the adversarial flag.
type MockAdapter struct{}

// NewMockAdapter returns the deterministic mock.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (m *MockAdapter) Name() string { return "mock/deterministic" }

var (
	mockSubjectRE    = regexp.MustCompile(`(?i)\b(?:a|an|the)\s+([a-z]+(?:\s[a-z]+)?)\b`)
	mockActionRE     = regexp.MustCompile(`(?i)\b([a-z]+ing)\b`)
	injectionMarkers = []string{
		"ignore previous instructions",
		"ignore all previous",
		"disregard the above",
		"system prompt",
	}
)

// Extract produces schema-valid responses without any network call.
func (m *MockAdapter) Extract(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	lower := strings.ToLower(req.Text)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return Response{Adversarial: true, Meta: Meta{Model: m.Name()}}, nil
		}
	}

	var spans []wireSpan
	if loc := mockSubjectRE.FindStringSubmatchIndex(req.Text); loc != nil {
		spans = append(spans, wireSpan{
			Quote:      req.Text[loc[2]:loc[3]],
			Category:   "subject.identity",
			Confidence: 0.75,
		})
	}
	if loc := mockActionRE.FindStringIndex(req.Text); loc != nil {
		spans = append(spans, wireSpan{
			Quote:      req.Text[loc[0]:loc[1]],
			Category:   "action.movement",
			Confidence: 0.7,
		})
	}

	// Round-trip through the real schema path so the mock exercises the
	// same validation as live providers.
	adversarial := false
	payload := wirePayload{Spans: spans, IsAdversarial: &adversarial}
	raw, _ := json.Marshal(payload)
	parsed, err := parsePayload(string(raw))
	if err != nil {
		return Response{}, &ExtractionError{Stage: "mock adapter", Err: err}
	}

	resp := Response{Adversarial: false, Meta: Meta{Model: m.Name()}}
	doc := canon.Canonicalize(req.Text)
	for _, ws := range parsed.Spans {
		if s, ok := resolveWireSpan(doc, ws, req.MinConfidence); ok {
			resp.Spans = append(resp.Spans, s)
			if req.MaxSpans > 0 && len(resp.Spans) >= req.MaxSpans {
				break
			}
		}
	}
	return resp, nil
}
