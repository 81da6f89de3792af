package eval

import (
	"fmt"
	"sort"
	"strings"
)

// RenderSnapshot formats a snapshot as a human-readable report.
func RenderSnapshot(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("VisionCue evaluation report\n")
	b.WriteString(fmt.Sprintf("Snapshot: %s\n", snap.ID))
	b.WriteString(fmt.Sprintf("Run at: %s\n", snap.Timestamp.Format("2006-01-02 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("Corpus: %s (%d prompts)\n", snap.SourceFile, snap.PromptCount))
	if snap.Model != "" {
		b.WriteString(fmt.Sprintf("Model: %s\n", snap.Model))
	}
	b.WriteString("\n")

	s := snap.Summary
	b.WriteString("Summary\n")
	b.WriteString(fmt.Sprintf("avg score            %.2f / %.0f\n", s.AvgScore, MaxPromptScore))
	b.WriteString(fmt.Sprintf("relaxed F1           %.3f\n", s.RelaxedF1))
	b.WriteString(fmt.Sprintf("taxonomy accuracy    %.3f\n", s.TaxonomyAccuracy))
	b.WriteString(fmt.Sprintf("fragmentation rate   %.3f\n", s.FragmentationRate))
	b.WriteString(fmt.Sprintf("over-extraction rate %.3f\n", s.OverExtractionRate))
	b.WriteString(fmt.Sprintf("safety pass rate     %.3f\n", s.SafetyPassRate))
	b.WriteString(fmt.Sprintf("JSON validity rate   %.3f\n", s.JSONValidityRate))

	if len(s.CategoryScores) > 0 {
		b.WriteString("\nBy category\n")
		cats := make([]string, 0, len(s.CategoryScores))
		for c := range s.CategoryScores {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			b.WriteString(fmt.Sprintf("%-12s %.2f\n", c, s.CategoryScores[c]))
		}
	}

	if len(s.ErrorsBySection) > 0 {
		b.WriteString("\nErrors\n")
		sections := make([]string, 0, len(s.ErrorsBySection))
		for sec := range s.ErrorsBySection {
			sections = append(sections, sec)
		}
		sort.Strings(sections)
		for _, sec := range sections {
			b.WriteString(fmt.Sprintf("- %s: %d\n", sec, s.ErrorsBySection[sec]))
		}
	}

	if len(s.Confusions) > 0 {
		b.WriteString("\nTaxonomy confusions\n")
		for _, c := range s.Confusions {
			b.WriteString("- " + c + "\n")
		}
	}
	if len(s.GranularityIssues) > 0 {
		b.WriteString("\nGranularity issues\n")
		for _, g := range s.GranularityIssues {
			b.WriteString("- " + g + "\n")
		}
	}

	var worst []PromptResult
	for _, r := range snap.Results {
		if r.Metrics.Score < MaxPromptScore {
			worst = append(worst, r)
		}
	}
	if len(worst) > 0 {
		sort.Slice(worst, func(i, j int) bool {
			if worst[i].Metrics.Score != worst[j].Metrics.Score {
				return worst[i].Metrics.Score < worst[j].Metrics.Score
			}
			return worst[i].ID < worst[j].ID
		})
		if len(worst) > 5 {
			worst = worst[:5]
		}
		b.WriteString("\nLowest-scoring prompts\n")
		b.WriteString("prompt        score  f1     gold  pred\n")
		for _, r := range worst {
			b.WriteString(fmt.Sprintf("%-13s %-6.2f %-6.3f %-5d %-5d\n",
				r.ID, r.Metrics.Score, r.Metrics.RelaxedF1, r.Metrics.GoldCount, r.Metrics.PredCount))
		}
	}

	return b.String()
}

// RenderComparison formats a snapshot diff as a human-readable report.
func RenderComparison(c Comparison) string {
	var b strings.Builder
	b.WriteString("VisionCue regression report\n")
	b.WriteString(fmt.Sprintf("Baseline: %s\n", c.BaselineID))
	b.WriteString(fmt.Sprintf("Current:  %s\n", c.CurrentID))
	b.WriteString("\n")

	b.WriteString("Metric deltas\n")
	metrics := make([]string, 0, len(c.MetricDeltas))
	for m := range c.MetricDeltas {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		b.WriteString(fmt.Sprintf("%-22s %+.3f\n", m, c.MetricDeltas[m]))
	}

	if len(c.CategoryDeltas) > 0 {
		b.WriteString("\nCategory deltas\n")
		cats := make([]string, 0, len(c.CategoryDeltas))
		for cat := range c.CategoryDeltas {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			b.WriteString(fmt.Sprintf("%-12s %+.2f\n", cat, c.CategoryDeltas[cat]))
		}
	}

	if len(c.Regressions) > 0 {
		b.WriteString("\nRegressed prompts\n")
		b.WriteString("prompt        baseline  current  delta\n")
		for _, r := range c.Regressions {
			b.WriteString(fmt.Sprintf("%-13s %-9.2f %-8.2f %+.2f\n", r.ID, r.Baseline, r.Current, r.Delta))
		}
	}
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n" + title + "\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
	}
	writeList("New confusions", c.NewConfusions)
	writeList("Resolved confusions", c.ResolvedConfusions)
	writeList("New granularity issues", c.NewGranularity)
	writeList("Resolved granularity issues", c.ResolvedGranularity)
	writeList("New prompts", c.NewPrompts)
	writeList("Removed prompts", c.RemovedPrompts)

	b.WriteString("\nVerdict: " + c.Verdict + "\n")
	return b.String()
}
