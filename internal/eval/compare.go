package eval

import (
	"sort"
)

// Verdicts emitted by Compare.
const (
	VerdictPass        = "pass"
	VerdictRegressions = "regressions detected"
)

// DefaultScoreDropThreshold flags a prompt as regressed when its score fell
// by at least this many points.
const DefaultScoreDropThreshold = 3.0

// Thresholds tunes the regression gate.
type Thresholds struct {
	// ScoreDrop is the per-prompt regression threshold; 0 uses the default.
	ScoreDrop float64
}

// PromptRegression is one prompt whose score dropped past the threshold.
type PromptRegression struct {
	ID       string  `json:"id"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
}

// Comparison is the diff between two snapshots.
type Comparison struct {
	BaselineID string `json:"baseline_id"`
	CurrentID  string `json:"current_id"`

	// MetricDeltas maps summary metric name to current-minus-baseline.
	MetricDeltas map[string]float64 `json:"metric_deltas"`
	// CategoryDeltas maps parent category to score delta.
	CategoryDeltas map[string]float64 `json:"category_deltas"`

	Regressions []PromptRegression `json:"regressions,omitempty"`
	// NewPrompts and RemovedPrompts are ids present in only one snapshot;
	// they never count as regressions.
	NewPrompts     []string `json:"new_prompts,omitempty"`
	RemovedPrompts []string `json:"removed_prompts,omitempty"`

	NewConfusions       []string `json:"new_confusions,omitempty"`
	ResolvedConfusions  []string `json:"resolved_confusions,omitempty"`
	NewGranularity      []string `json:"new_granularity,omitempty"`
	ResolvedGranularity []string `json:"resolved_granularity,omitempty"`

	Verdict string `json:"verdict"`
}

// Passed reports whether the comparison gates clean.
func (c Comparison) Passed() bool { return c.Verdict == VerdictPass }

// Compare diffs a current snapshot against a baseline. The verdict fails
// when any prompt's score dropped by at least the threshold.
func Compare(baseline, current Snapshot, th Thresholds) Comparison {
	drop := th.ScoreDrop
	if drop <= 0 {
		drop = DefaultScoreDropThreshold
	}

	c := Comparison{
		BaselineID:     baseline.ID,
		CurrentID:      current.ID,
		MetricDeltas:   map[string]float64{},
		CategoryDeltas: map[string]float64{},
		Verdict:        VerdictPass,
	}

	c.MetricDeltas["avgScore"] = current.Summary.AvgScore - baseline.Summary.AvgScore
	c.MetricDeltas["relaxed_f1"] = current.Summary.RelaxedF1 - baseline.Summary.RelaxedF1
	c.MetricDeltas["taxonomy_accuracy"] = current.Summary.TaxonomyAccuracy - baseline.Summary.TaxonomyAccuracy
	c.MetricDeltas["fragmentation_rate"] = current.Summary.FragmentationRate - baseline.Summary.FragmentationRate
	c.MetricDeltas["over_extraction_rate"] = current.Summary.OverExtractionRate - baseline.Summary.OverExtractionRate
	c.MetricDeltas["safety_pass_rate"] = current.Summary.SafetyPassRate - baseline.Summary.SafetyPassRate
	c.MetricDeltas["json_validity_rate"] = current.Summary.JSONValidityRate - baseline.Summary.JSONValidityRate

	for cat, score := range current.Summary.CategoryScores {
		c.CategoryDeltas[cat] = score - baseline.Summary.CategoryScores[cat]
	}
	for cat, score := range baseline.Summary.CategoryScores {
		if _, ok := current.Summary.CategoryScores[cat]; !ok {
			c.CategoryDeltas[cat] = -score
		}
	}

	baseScores := map[string]float64{}
	for _, r := range baseline.Results {
		baseScores[r.ID] = r.Metrics.Score
	}
	currentIDs := map[string]bool{}
	for _, r := range current.Results {
		currentIDs[r.ID] = true
		base, ok := baseScores[r.ID]
		if !ok {
			c.NewPrompts = append(c.NewPrompts, r.ID)
			continue
		}
		delta := r.Metrics.Score - base
		if -delta >= drop {
			c.Regressions = append(c.Regressions, PromptRegression{
				ID: r.ID, Baseline: base, Current: r.Metrics.Score, Delta: delta,
			})
		}
	}
	for _, r := range baseline.Results {
		if !currentIDs[r.ID] {
			c.RemovedPrompts = append(c.RemovedPrompts, r.ID)
		}
	}
	sort.Slice(c.Regressions, func(i, j int) bool {
		return c.Regressions[i].Delta < c.Regressions[j].Delta
	})
	sort.Strings(c.NewPrompts)
	sort.Strings(c.RemovedPrompts)

	c.NewConfusions, c.ResolvedConfusions = diffSets(baseline.Summary.Confusions, current.Summary.Confusions)
	c.NewGranularity, c.ResolvedGranularity = diffSets(baseline.Summary.GranularityIssues, current.Summary.GranularityIssues)

	if len(c.Regressions) > 0 {
		c.Verdict = VerdictRegressions
	}
	return c
}

// diffSets returns (in current but not baseline, in baseline but not
// current), both sorted.
func diffSets(baseline, current []string) (added, resolved []string) {
	base := map[string]bool{}
	for _, s := range baseline {
		base[s] = true
	}
	cur := map[string]bool{}
	for _, s := range current {
		cur[s] = true
		if !base[s] {
			added = append(added, s)
		}
	}
	for _, s := range baseline {
		if !cur[s] {
			resolved = append(resolved, s)
		}
	}
	sort.Strings(added)
	sort.Strings(resolved)
	return added, resolved
}
