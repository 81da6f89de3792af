// Package pipeline runs the full extraction flow: canonicalize the prompt,
// gather candidates from the deterministic matchers and the model adapter in
// parallel, resolve them into a non-overlapping span set, and serve repeats
// from the result cache. Model failures degrade the run to deterministic
// sources instead of failing it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visioncue/visioncue/internal/cache"
	"github.com/visioncue/visioncue/internal/canon"
	"github.com/visioncue/visioncue/internal/contextmatch"
	"github.com/visioncue/visioncue/internal/lexicon"
	"github.com/visioncue/visioncue/internal/merge"
	"github.com/visioncue/visioncue/internal/openvocab"
	"github.com/visioncue/visioncue/internal/span"
)

// DefaultCooldown is the throttle window opened after a rate-limit response
// that carried no Retry-After hint.
const DefaultCooldown = 30 * time.Second

// Options adjusts a single run.
type Options struct {
	// Context supplies user-declared intent fields to the priority matcher.
	Context span.PromptContext
	// BypassCache forces a fresh computation. The evaluation harness sets
	// this so cached results never mask a regression.
	BypassCache bool
	// DisableModel skips the open-vocabulary stage entirely.
	DisableModel bool
}

// Meta records how a result was produced.
type Meta struct {
	CacheHit    bool   `json:"cache_hit"`
	Adversarial bool   `json:"adversarial"`
	Degraded    bool   `json:"degraded"`
	ModelCalled bool   `json:"model_called"`
	SchemaValid bool   `json:"schema_valid"`
	Model       string `json:"model,omitempty"`
	DegradedWhy string `json:"degraded_why,omitempty"`
}

// Result is the outcome of one extraction run.
type Result struct {
	Spans []span.Span `json:"spans"`
	// Canonical is the normalized text the span offsets index into.
	Canonical string `json:"canonical"`
	// Raw is the accepted set before fragmentation repair and capping.
	// Empty on a cache hit; the cache stores only the final set.
	Raw  []span.Span `json:"-"`
	Meta Meta        `json:"meta"`
}

// Runner is an explicitly constructed pipeline instance. It is safe for
// concurrent use; the only mutable state is the rate-limit cooldown window.
type Runner struct {
	matcher *lexicon.Matcher
	adapter openvocab.Adapter // nil disables the open-vocab stage
	cache   *cache.Cache      // nil disables caching
	policy  span.Policy

	mu            sync.Mutex
	cooldownUntil time.Time

	now func() time.Time
}

// Config holds runner construction parameters.
type Config struct {
	Adapter openvocab.Adapter
	Cache   *cache.Cache
	Policy  span.Policy
}

func NewRunner(cfg Config) *Runner {
	policy := cfg.Policy
	if policy == (span.Policy{}) {
		policy = span.DefaultPolicy()
	}
	return &Runner{
		matcher: lexicon.NewMatcher(),
		adapter: cfg.Adapter,
		cache:   cfg.Cache,
		policy:  policy,
		now:     time.Now,
	}
}

// Policy returns the runner's active policy.
func (r *Runner) Policy() span.Policy { return r.policy }

// Run extracts control-point spans from raw prompt text. Deterministic
// failures (empty input) return early; model failures never propagate — the
// run degrades and Meta says why.
func (r *Runner) Run(ctx context.Context, text string, opts Options) (Result, error) {
	doc := canon.Canonicalize(text)
	if doc.Len() == 0 {
		return Result{Spans: []span.Span{}, Canonical: doc.Text, Meta: Meta{SchemaValid: true}}, nil
	}

	if r.cache == nil || opts.BypassCache {
		return r.compute(ctx, doc, opts)
	}

	key := cacheKey(doc, r.policy, opts)
	var (
		fresh    Result
		computed bool
	)
	spans, meta, hit, err := r.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]span.Span, cache.EntryMeta, error) {
		res, err := r.compute(ctx, doc, opts)
		if err != nil {
			return nil, cache.EntryMeta{}, err
		}
		fresh = res
		computed = true
		// The cache skips the write when Degraded is set, so the next
		// call retries the model instead of replaying the failure.
		return res.Spans, cache.EntryMeta{
			Adversarial: res.Meta.Adversarial,
			Degraded:    res.Meta.Degraded,
			SchemaValid: res.Meta.SchemaValid,
			Model:       res.Meta.Model,
			DegradedWhy: res.Meta.DegradedWhy,
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	if hit {
		return Result{
			Spans:     spans,
			Canonical: doc.Text,
			Meta: Meta{
				CacheHit:    true,
				Adversarial: meta.Adversarial,
				SchemaValid: meta.SchemaValid,
				Model:       meta.Model,
			},
		}, nil
	}
	if computed {
		return fresh, nil
	}
	// A coalesced caller shares the winner's computation without seeing
	// its Result; rebuild one from the shared entry metadata so degraded
	// runs report the same way to every waiter.
	return Result{
		Spans:     spans,
		Canonical: doc.Text,
		Meta: Meta{
			Adversarial: meta.Adversarial,
			Degraded:    meta.Degraded,
			ModelCalled: meta.Model != "",
			SchemaValid: meta.SchemaValid,
			Model:       meta.Model,
			DegradedWhy: meta.DegradedWhy,
		},
	}, nil
}

func cacheKey(doc canon.Doc, policy span.Policy, opts Options) string {
	// The context fields shape the output, so they are part of the
	// identity the cache addresses.
	text := doc.Text
	for _, f := range opts.Context.Fields() {
		text += "\x1f" + f.Name + "=" + f.Value
	}
	if opts.DisableModel {
		text += "\x1fno-model"
	}
	return cache.Key(text, policy, policy.TemplateVersion)
}

func (r *Runner) compute(ctx context.Context, doc canon.Doc, opts Options) (Result, error) {
	var (
		closedSpans []span.Span
		ctxSpans    []span.Span
		openRes     openvocab.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		closedSpans = r.matcher.Match(doc)
		return nil
	})
	g.Go(func() error {
		ctxSpans = contextmatch.Match(doc, opts.Context)
		return nil
	})
	g.Go(func() error {
		openRes = r.openVocab(gctx, doc, opts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	meta := Meta{
		ModelCalled: openRes.Meta.Model != "",
		SchemaValid: openRes.SchemaValid,
		Model:       openRes.Meta.Model,
	}
	if openRes.Err != nil {
		meta.Degraded = true
		meta.DegradedWhy = openRes.Err.Error()
	}
	if !meta.ModelCalled && openRes.Err == nil {
		// Deterministic-only runs have no schema to fail.
		meta.SchemaValid = true
	}

	// An adversarial prompt yields no control points at all: the flag is
	// the entire result.
	if openRes.Adversarial {
		meta.Adversarial = true
		return Result{Spans: []span.Span{}, Canonical: doc.Text, Meta: meta}, nil
	}

	cands := make([]span.Span, 0, len(closedSpans)+len(ctxSpans)+len(openRes.Spans))
	cands = append(cands, closedSpans...)
	cands = append(cands, ctxSpans...)
	cands = append(cands, openRes.Spans...)

	resolved := merge.Resolve(cands, doc, r.policy)
	return Result{Spans: resolved.Spans, Canonical: doc.Text, Raw: resolved.RawAccepted, Meta: meta}, nil
}

// openVocab runs the model stage, honoring the cooldown window and turning
// every failure into a degrade signal.
func (r *Runner) openVocab(ctx context.Context, doc canon.Doc, opts Options) openvocab.Result {
	if r.adapter == nil || opts.DisableModel {
		return openvocab.Result{SchemaValid: false}
	}
	if until, open := r.cooldown(); open {
		return openvocab.Result{
			Err: fmt.Errorf("model cooling down until %s after rate limit", until.Format(time.RFC3339)),
		}
	}

	resp, err := r.adapter.Extract(ctx, openvocab.Request{
		Text:            doc.Text,
		MaxSpans:        r.policy.MaxSpans,
		MinConfidence:   r.policy.MinConfidence,
		TemplateVersion: r.policy.TemplateVersion,
	})
	if err != nil {
		var rle *openvocab.RateLimitError
		if errors.As(err, &rle) {
			r.openCooldown(rle.RetryAfter)
		}
		fmt.Fprintf(os.Stderr, "Warning: open-vocab stage degraded: %v\n", err)
		return openvocab.Result{Meta: resp.Meta, Err: err}
	}
	return openvocab.Result{
		Spans:       resp.Spans,
		Adversarial: resp.Adversarial,
		Meta:        resp.Meta,
		SchemaValid: !resp.Meta.Corrected,
	}
}

func (r *Runner) cooldown() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Before(r.cooldownUntil) {
		return r.cooldownUntil, true
	}
	return time.Time{}, false
}

func (r *Runner) openCooldown(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultCooldown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(retryAfter)
	if until.After(r.cooldownUntil) {
		r.cooldownUntil = until
	}
}
