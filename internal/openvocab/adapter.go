// Package openvocab delegates extraction of open-vocabulary spans — content
// the static lexicon cannot cover — to an external model service behind a
// narrow adapter contract. Responses are validated against a strict schema;
// a malformed payload earns exactly one corrective retry before the failure
// surfaces as an ExtractionError. Every response carries a mandatory
// adversarial-input flag which is never dropped, even on partial failure.
package openvocab

import (
	"context"
	"fmt"
	"time"

	"github.com/visioncue/visioncue/internal/span"
)

// Request is the adapter input contract.
type Request struct {
	Text            string  `json:"text"`
	MaxSpans        int     `json:"max_spans"`
	MinConfidence   float64 `json:"min_confidence"`
	TemplateVersion string  `json:"template_version"`
}

// Response is the adapter output contract.
type Response struct {
	Spans       []span.Span `json:"spans"`
	Adversarial bool        `json:"is_adversarial"`
	Meta        Meta        `json:"meta"`
}

// Meta carries provenance about the model call.
type Meta struct {
	Model     string `json:"model"`
	Corrected bool   `json:"corrected"` // true when the corrective retry was needed
	LatencyMs int64  `json:"latency_ms"`
}

// Adapter is the contract every concrete model provider satisfies.
type Adapter interface {
	Extract(ctx context.Context, req Request) (Response, error)
	Name() string
}

// ExtractionError signals that the model produced unusable output after the
// retry budget was exhausted. The pipeline degrades to deterministic
// sources rather than failing the request.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RateLimitError signals the model service is throttling the caller.
// The pipeline opens a cooldown window instead of retrying immediately.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}

// Result is the degrade-aware outcome threaded through the merger.
// A failed open-vocab stage is an expected path, not an exception: the
// pipeline still merges deterministic spans and records why the model
// contributed nothing.
type Result struct {
	Spans       []span.Span
	Adversarial bool
	Meta        Meta
	// SchemaValid is true when the first response parsed without the
	// corrective retry. Feeds the evaluation harness's JSON validity rate.
	SchemaValid bool
	// Err is the failure reason when the stage contributed nothing.
	Err error
}
