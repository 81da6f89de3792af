package eval

import (
	"fmt"
	"sort"

	"github.com/visioncue/visioncue/internal/span"
)

// IoUThreshold is the minimum intersection-over-union for a predicted span
// to count as a true positive against a ground-truth span.
const IoUThreshold = 0.5

// MaxPromptScore scales relaxed F1 into the 0..20 per-prompt score band.
const MaxPromptScore = 20.0

// IoU computes intersection-over-union for two half-open byte ranges.
func IoU(aStart, aEnd, bStart, bEnd int) float64 {
	interStart := max(aStart, bStart)
	interEnd := min(aEnd, bEnd)
	if interEnd <= interStart {
		return 0
	}
	inter := interEnd - interStart
	union := (aEnd - aStart) + (bEnd - bStart) - inter
	return float64(inter) / float64(union)
}

// match pairs one gold span with one predicted span.
type match struct {
	gold, pred int
	iou        float64
	exactLeaf  bool
}

// PromptMetrics is the per-example scoring outcome.
type PromptMetrics struct {
	Score              float64 `json:"score"`
	RelaxedF1          float64 `json:"relaxed_f1"`
	Precision          float64 `json:"precision"`
	Recall             float64 `json:"recall"`
	TaxonomyAccuracy   float64 `json:"taxonomy_accuracy"`
	FragmentationRate  float64 `json:"fragmentation_rate"`
	OverExtractionRate float64 `json:"over_extraction_rate"`
	TruePositives      int     `json:"true_positives"`
	GoldCount          int     `json:"gold_count"`
	PredCount          int     `json:"pred_count"`
	// Confusions are overlap matches whose parent category disagreed, as
	// "gold->predicted" parent pairs.
	Confusions []string `json:"confusions,omitempty"`
	// GranularityIssues are gold spans split across multiple raw
	// predictions, as "category:quote".
	GranularityIssues []string `json:"granularity_issues,omitempty"`

	// Per-parent counts feeding corpus-level category scores.
	perParent map[span.Parent]*parentCounts
}

type parentCounts struct{ tp, fp, fn int }

// Score computes every per-prompt metric. pred is the final span set; raw is
// the pre-repair accepted set the fragmentation measure runs against — a
// gold span split across adjacent fragments counts toward fragmentation
// once, never as multiple true positives.
func Score(gold, pred, raw []span.Span) PromptMetrics {
	m := PromptMetrics{
		GoldCount: len(gold),
		PredCount: len(pred),
		perParent: map[span.Parent]*parentCounts{},
	}

	matches := matchSpans(gold, pred)
	m.TruePositives = len(matches)

	matchedGold := make([]bool, len(gold))
	matchedPred := make([]bool, len(pred))
	exact := 0
	for _, mt := range matches {
		matchedGold[mt.gold] = true
		matchedPred[mt.pred] = true
		if mt.exactLeaf {
			exact++
		}
		m.counts(span.ParentOrDefault(gold[mt.gold].Category)).tp++
	}
	for i, g := range gold {
		if !matchedGold[i] {
			m.counts(span.ParentOrDefault(g.Category)).fn++
		}
	}
	for i, p := range pred {
		if !matchedPred[i] {
			m.counts(span.ParentOrDefault(p.Category)).fp++
		}
	}

	m.Precision = ratio(m.TruePositives, len(pred))
	m.Recall = ratio(m.TruePositives, len(gold))
	m.RelaxedF1 = f1(m.Precision, m.Recall)
	if len(gold) == 0 && len(pred) == 0 {
		// A correctly empty prediction is a perfect score.
		m.RelaxedF1 = 1
		m.Precision = 1
		m.Recall = 1
	}
	m.Score = MaxPromptScore * m.RelaxedF1
	m.TaxonomyAccuracy = ratio(exact, m.TruePositives)
	m.OverExtractionRate = ratio(len(pred)-m.TruePositives, len(pred))

	m.Confusions = confusions(gold, pred, matchedGold, matchedPred)
	fragmented, issues := fragmentation(gold, raw)
	m.FragmentationRate = ratio(fragmented, len(gold))
	m.GranularityIssues = issues

	return m
}

func (m *PromptMetrics) counts(p span.Parent) *parentCounts {
	c, ok := m.perParent[p]
	if !ok {
		c = &parentCounts{}
		m.perParent[p] = c
	}
	return c
}

// matchSpans greedily pairs gold and predicted spans one-to-one, best IoU
// first, requiring parent-category agreement and IoU at or above threshold.
func matchSpans(gold, pred []span.Span) []match {
	var cands []match
	for gi, g := range gold {
		for pi, p := range pred {
			if span.ParentOrDefault(g.Category) != span.ParentOrDefault(p.Category) {
				continue
			}
			iou := IoU(g.Start, g.End, p.Start, p.End)
			if iou < IoUThreshold {
				continue
			}
			cands = append(cands, match{
				gold: gi, pred: pi, iou: iou,
				exactLeaf: g.Category == p.Category,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].iou != cands[j].iou {
			return cands[i].iou > cands[j].iou
		}
		if cands[i].gold != cands[j].gold {
			return cands[i].gold < cands[j].gold
		}
		return cands[i].pred < cands[j].pred
	})

	usedGold := map[int]bool{}
	usedPred := map[int]bool{}
	var out []match
	for _, c := range cands {
		if usedGold[c.gold] || usedPred[c.pred] {
			continue
		}
		usedGold[c.gold] = true
		usedPred[c.pred] = true
		out = append(out, c)
	}
	return out
}

// confusions reports unmatched overlap pairs whose ranges agree well enough
// but whose parent categories disagree.
func confusions(gold, pred []span.Span, matchedGold, matchedPred []bool) []string {
	seen := map[string]bool{}
	var out []string
	for gi, g := range gold {
		if matchedGold[gi] {
			continue
		}
		for pi, p := range pred {
			if matchedPred[pi] {
				continue
			}
			if IoU(g.Start, g.End, p.Start, p.End) < IoUThreshold {
				continue
			}
			gp, pp := span.ParentOrDefault(g.Category), span.ParentOrDefault(p.Category)
			if gp == pp {
				continue
			}
			key := fmt.Sprintf("%s->%s", gp, pp)
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out
}

// fragmentation counts gold spans split across two or more raw predictions
// of the same parent category.
func fragmentation(gold, raw []span.Span) (int, []string) {
	fragmented := 0
	var issues []string
	for _, g := range gold {
		pieces := 0
		for _, r := range raw {
			if span.ParentOrDefault(r.Category) != span.ParentOrDefault(g.Category) {
				continue
			}
			if r.Start < g.End && g.Start < r.End {
				pieces++
			}
		}
		if pieces >= 2 {
			fragmented++
			issues = append(issues, fmt.Sprintf("%s:%s", g.Category, g.Quote))
		}
	}
	sort.Strings(issues)
	return fragmented, issues
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
