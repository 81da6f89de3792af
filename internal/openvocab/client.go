package openvocab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/span"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	Temperature float64
	MaxTokens   int
	Format      string // "json" for structured output
	System      string
}

// completer abstracts the provider wire protocol. The corrective retry
// needs the failed assistant turn in context, so this takes a message list
// rather than a single prompt.
type completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOpts) (string, error)
	Name() string
}

// ModelAdapter implements Adapter over any completer, handling prompt
// templating, strict schema validation, and the single corrective retry.
type ModelAdapter struct {
	provider completer
}

// NewModelAdapter wraps a provider in the adapter contract.
func NewModelAdapter(p completer) *ModelAdapter {
	return &ModelAdapter{provider: p}
}

func (a *ModelAdapter) Name() string { return a.provider.Name() }

// wirePayload is the strict response schema. IsAdversarial is a pointer so
// a payload that omits the mandatory flag is rejected as malformed rather
// than silently defaulting to false.
type wirePayload struct {
	Spans         []wireSpan `json:"spans"`
	IsAdversarial *bool      `json:"is_adversarial"`
}

type wireSpan struct {
	Quote       string  `json:"quote"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
	Occurrence  int     `json:"occurrence,omitempty"`
}

// Extract sends the request and validates the response. On a malformed
// payload it issues exactly one corrective turn; a second failure returns
// an ExtractionError. The adversarial flag short-circuits span extraction
// but is always carried through.
func (a *ModelAdapter) Extract(ctx context.Context, req Request) (Response, error) {
	opts := CompletionOpts{
		Temperature: 0.1,
		Format:      "json",
		System:      systemPrompt(req.TemplateVersion),
	}

	messages := []Message{{Role: "user", Content: userPrompt(req)}}

	started := time.Now()
	raw, err := a.provider.Complete(ctx, messages, opts)
	if err != nil {
		return Response{}, err // RateLimitError and transport errors pass through untouched
	}

	payload, parseErr := parsePayload(raw)
	corrected := false
	if parseErr != nil {
		// One corrective turn: show the model its own response and the
		// schema violation.
		messages = append(messages,
			Message{Role: "assistant", Content: raw},
			Message{Role: "user", Content: correctivePrompt(parseErr)},
		)
		corrected = true
		raw, err = a.provider.Complete(ctx, messages, opts)
		if err != nil {
			return Response{}, err
		}
		payload, parseErr = parsePayload(raw)
		if parseErr != nil {
			return Response{}, &ExtractionError{Stage: "open-vocab schema validation", Err: parseErr}
		}
	}

	resp := Response{
		Adversarial: *payload.IsAdversarial,
		Meta: Meta{
			Model:     a.provider.Name(),
			Corrected: corrected,
			LatencyMs: time.Since(started).Milliseconds(),
		},
	}

	if resp.Adversarial {
		// Adversarial inputs yield no spans; the flag is the whole result.
		return resp, nil
	}

	doc := canon.Canonicalize(req.Text)
	for _, ws := range payload.Spans {
		s, ok := resolveWireSpan(doc, ws, req.MinConfidence)
		if !ok {
			continue
		}
		resp.Spans = append(resp.Spans, s)
		if req.MaxSpans > 0 && len(resp.Spans) >= req.MaxSpans {
			break
		}
	}

	return resp, nil
}

// parsePayload enforces the structural schema: valid JSON, a spans array,
// and the mandatory adversarial flag.
func parsePayload(raw string) (wirePayload, error) {
	content := strings.TrimSpace(raw)
	// Some models wrap JSON in markdown fences despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload wirePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return wirePayload{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if payload.IsAdversarial == nil {
		return wirePayload{}, fmt.Errorf("missing mandatory is_adversarial field")
	}
	return payload, nil
}

// resolveWireSpan validates one model span and anchors it to byte offsets.
// The model returns quotes, not offsets; the quote is located in the
// canonical text (first occurrence unless the model supplied one).
// Individually bad spans are skipped, not grounds for a retry.
func resolveWireSpan(doc canon.Doc, ws wireSpan, minConfidence float64) (span.Span, bool) {
	quote := ws.Quote
	if strings.TrimSpace(quote) == "" {
		return span.Span{}, false
	}
	if ws.Confidence < 0 || ws.Confidence > 1 {
		return span.Span{}, false
	}
	if minConfidence > 0 && ws.Confidence < minConfidence {
		return span.Span{}, false
	}

	start := strings.Index(doc.Text, quote)
	if start < 0 {
		// Model paraphrased instead of quoting; retry the search
		// case-insensitively before giving up.
		lower := strings.ToLower(doc.Text)
		lq := strings.ToLower(quote)
		if len(lower) == len(doc.Text) {
			start = strings.Index(lower, lq)
		}
		if start < 0 {
			fmt.Fprintf(os.Stderr, "Warning: open-vocab quote %q not found in text, span dropped\n", quote)
			return span.Span{}, false
		}
		quote = doc.Slice(start, start+len(lq))
	}
	if ws.Occurrence > 1 {
		for n := 1; n < ws.Occurrence; n++ {
			next := strings.Index(doc.Text[start+len(quote):], quote)
			if next < 0 {
				break
			}
			start += len(quote) + next
		}
	}

	cat := span.Category(ws.Category)
	if !span.Known(cat) {
		fmt.Fprintf(os.Stderr, "Warning: open-vocab category %q unknown, using %s\n", ws.Category, span.DefaultParent)
		cat = span.Category(span.DefaultParent)
	}

	return span.Span{
		Start:         start,
		End:           start + len(quote),
		StartGrapheme: doc.GraphemeIndex(start),
		Quote:         quote,
		Category:      cat,
		Confidence:    ws.Confidence,
		Source:        span.SourceOpenVocab,
		Explanation:   ws.Explanation,
	}, true
}
