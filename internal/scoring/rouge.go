package scoring

import (
	"context"
	"fmt"
	"strings"

	"eaas/internal/rubric"
)

// ROUGE scores recall-oriented n-gram overlap. metric_name selects rouge-1,
// rouge-2 or rouge-l (LCS based); the F1 measure is reported.
type ROUGE struct{}

func (r *ROUGE) Score(ctx context.Context, item Item, cfg rubric.Config) (Result, error) {
	if item.ExpectedOutput == "" {
		return Result{}, scoreErrorf(KindUpstreamFailure, "rouge scoring requires expected_output")
	}

	reference := tokenize(item.ExpectedOutput)
	candidate := tokenize(item.ModelOutput)

	metric := normalizeMetricName(cfg.MetricName)
	var f1 float64
	switch metric {
	case "rouge1":
		f1 = ngramF1(reference, candidate, 1)
	case "rouge2":
		f1 = ngramF1(reference, candidate, 2)
	case "rougel":
		f1 = lcsF1(reference, candidate)
	default:
		return Result{}, scoreErrorf(KindUpstreamFailure, "unknown rouge metric %q", cfg.MetricName)
	}

	return Result{
		Score:       f1,
		Explanation: fmt.Sprintf("%s F1 score: %.3f", strings.ToUpper(cfg.MetricName), f1),
	}, nil
}

func normalizeMetricName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

func ngramF1(reference, candidate []string, n int) float64 {
	refCounts := countNgrams(reference, n)
	candCounts := countNgrams(candidate, n)

	refTotal, candTotal, overlap := 0, 0, 0
	for _, c := range refCounts {
		refTotal += c
	}
	for g, c := range candCounts {
		candTotal += c
		if rc, ok := refCounts[g]; ok {
			overlap += min(c, rc)
		}
	}
	if refTotal == 0 || candTotal == 0 || overlap == 0 {
		return 0
	}
	precision := float64(overlap) / float64(candTotal)
	recall := float64(overlap) / float64(refTotal)
	return 2 * precision * recall / (precision + recall)
}

func lcsF1(reference, candidate []string) float64 {
	if len(reference) == 0 || len(candidate) == 0 {
		return 0
	}
	l := lcsLength(reference, candidate)
	if l == 0 {
		return 0
	}
	precision := float64(l) / float64(len(candidate))
	recall := float64(l) / float64(len(reference))
	return 2 * precision * recall / (precision + recall)
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
