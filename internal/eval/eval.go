// Package eval is the offline evaluation harness: it runs the pipeline over
// a golden set, scores predictions with IoU-relaxed matching, writes
// immutable snapshots, and compares snapshots to gate deployments.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visioncue/visioncue/internal/golden"
	"github.com/visioncue/visioncue/internal/pipeline"
	"github.com/visioncue/visioncue/internal/span"
)

// DefaultDelay is the fixed pause between model calls; the harness runs
// sequentially to respect external rate limits.
const DefaultDelay = 500 * time.Millisecond

// Options adjusts an evaluation run.
type Options struct {
	// Delay between prompts. Negative disables the pause (tests).
	Delay time.Duration
	// DisableModel scores the deterministic sources alone.
	DisableModel bool
}

// PromptResult is one scored example in a snapshot.
type PromptResult struct {
	ID          string        `json:"id"`
	Metrics     PromptMetrics `json:"metrics"`
	Adversarial bool          `json:"adversarial"`
	Flagged     bool          `json:"flagged_adversarial"`
	Degraded    bool          `json:"degraded"`
	ModelCalled bool          `json:"model_called"`
	SchemaValid bool          `json:"schema_valid"`
	LatencyMs   int64         `json:"latency_ms"`
	Error       string        `json:"error,omitempty"`
	Spans       []span.Span   `json:"spans"`
}

// Summary aggregates a whole corpus run.
type Summary struct {
	AvgScore           float64            `json:"avgScore"`
	RelaxedF1          float64            `json:"relaxed_f1"`
	TaxonomyAccuracy   float64            `json:"taxonomy_accuracy"`
	FragmentationRate  float64            `json:"fragmentation_rate"`
	OverExtractionRate float64            `json:"over_extraction_rate"`
	SafetyPassRate     float64            `json:"safety_pass_rate"`
	JSONValidityRate   float64            `json:"json_validity_rate"`
	CategoryScores     map[string]float64 `json:"categoryScores"`
	ErrorsBySection    map[string]int     `json:"errorsBySection"`
	Confusions         []string           `json:"confusions,omitempty"`
	GranularityIssues  []string           `json:"granularity_issues,omitempty"`
}

// Snapshot is an immutable evaluation record; written once, only ever read
// back for comparison.
type Snapshot struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	PromptCount int            `json:"promptCount"`
	SourceFile  string         `json:"sourceFile"`
	Model       string         `json:"model,omitempty"`
	Results     []PromptResult `json:"results"`
	Summary     Summary        `json:"summary"`
}

// Evaluate runs every golden prompt through the pipeline sequentially and
// scores the predictions. The cache is bypassed so a stale entry can never
// mask a regression.
func Evaluate(ctx context.Context, runner *pipeline.Runner, set *golden.Set, opts Options) (Snapshot, error) {
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}

	snap := Snapshot{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		PromptCount: len(set.Prompts),
		SourceFile:  strings.Join(set.Files, ","),
	}

	for i, p := range set.Prompts {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return Snapshot{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		started := time.Now()
		res, err := runner.Run(ctx, p.Text, pipeline.Options{
			Context:      p.Context,
			BypassCache:  true,
			DisableModel: opts.DisableModel,
		})
		elapsed := time.Since(started).Milliseconds()
		if err != nil {
			// One failed prompt scores zero; the rest of the corpus
			// still runs.
			fmt.Fprintf(os.Stderr, "Warning: evaluating prompt %s: %v\n", p.ID, err)
			snap.Results = append(snap.Results, PromptResult{
				ID:        p.ID,
				Metrics:   Score(p.Resolved, nil, nil),
				LatencyMs: elapsed,
				Error:     err.Error(),
			})
			continue
		}
		if res.Meta.Model != "" && snap.Model == "" {
			snap.Model = res.Meta.Model
		}

		snap.Results = append(snap.Results, PromptResult{
			ID:          p.ID,
			Metrics:     Score(p.Resolved, res.Spans, res.Raw),
			Adversarial: p.Adversarial,
			Flagged:     res.Meta.Adversarial,
			Degraded:    res.Meta.Degraded,
			ModelCalled: res.Meta.ModelCalled,
			SchemaValid: res.Meta.SchemaValid,
			LatencyMs:   elapsed,
			Spans:       res.Spans,
		})
	}

	snap.Summary = summarize(snap.Results)
	return snap, nil
}

func summarize(results []PromptResult) Summary {
	s := Summary{
		CategoryScores:  map[string]float64{},
		ErrorsBySection: map[string]int{},
	}
	if len(results) == 0 {
		return s
	}

	var (
		scoreSum, f1Sum, taxSum, fragSum, overSum float64
		advTotal, advFlagged                      int
		modelCalls, schemaValid                   int
		parentTotals                              = map[span.Parent]*parentCounts{}
		confusionSet                              = map[string]bool{}
		granularitySet                            = map[string]bool{}
	)
	for _, r := range results {
		scoreSum += r.Metrics.Score
		f1Sum += r.Metrics.RelaxedF1
		taxSum += r.Metrics.TaxonomyAccuracy
		fragSum += r.Metrics.FragmentationRate
		overSum += r.Metrics.OverExtractionRate

		if r.Adversarial {
			advTotal++
			if r.Flagged {
				advFlagged++
			} else {
				s.ErrorsBySection["safety"]++
			}
		}
		if r.ModelCalled {
			modelCalls++
			if r.SchemaValid {
				schemaValid++
			} else {
				s.ErrorsBySection["schema"]++
			}
		}
		if r.Degraded {
			s.ErrorsBySection["degraded"]++
		}
		if r.Error != "" {
			s.ErrorsBySection["pipeline"]++
		}

		for p, c := range r.Metrics.perParent {
			t, ok := parentTotals[p]
			if !ok {
				t = &parentCounts{}
				parentTotals[p] = t
			}
			t.tp += c.tp
			t.fp += c.fp
			t.fn += c.fn
		}
		for _, c := range r.Metrics.Confusions {
			confusionSet[c] = true
		}
		for _, g := range r.Metrics.GranularityIssues {
			granularitySet[g] = true
		}
	}

	n := float64(len(results))
	s.AvgScore = scoreSum / n
	s.RelaxedF1 = f1Sum / n
	s.TaxonomyAccuracy = taxSum / n
	s.FragmentationRate = fragSum / n
	s.OverExtractionRate = overSum / n
	s.SafetyPassRate = 1
	if advTotal > 0 {
		s.SafetyPassRate = float64(advFlagged) / float64(advTotal)
	}
	s.JSONValidityRate = 1
	if modelCalls > 0 {
		s.JSONValidityRate = float64(schemaValid) / float64(modelCalls)
	}

	for p, c := range parentTotals {
		prec := ratio(c.tp, c.tp+c.fp)
		rec := ratio(c.tp, c.tp+c.fn)
		s.CategoryScores[string(p)] = MaxPromptScore * f1(prec, rec)
	}
	s.Confusions = sortedKeys(confusionSet)
	s.GranularityIssues = sortedKeys(granularitySet)
	return s
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteSnapshot persists a snapshot under dir with a timestamped name and
// returns the path.
func WriteSnapshot(dir string, snap Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	name := fmt.Sprintf("snapshot-%s.json", snap.Timestamp.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot written by WriteSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot file in dir, or "" when none
// exist.
func LatestSnapshot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading snapshot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "snapshot-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
