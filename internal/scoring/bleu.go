package scoring

import (
	"context"
	"math"

	"eaas/internal/rubric"
)

// BLEU is a smoothed sentence-level BLEU scorer. It mirrors the usual
// sentence_bleu with add-one smoothing: uniform 1..4-gram weights, clipped
// n-gram precision, and a brevity penalty.
type BLEU struct{}

const bleuMaxOrder = 4

func (b *BLEU) Score(ctx context.Context, item Item, cfg rubric.Config) (Result, error) {
	if item.ExpectedOutput == "" {
		return Result{}, scoreErrorf(KindUpstreamFailure, "bleu scoring requires expected_output")
	}

	reference := tokenize(item.ExpectedOutput)
	candidate := tokenize(item.ModelOutput)
	if len(candidate) == 0 {
		return Result{Score: 0, Explanation: "BLEU score comparing model output to expected output"}, nil
	}

	logSum := 0.0
	for n := 1; n <= bleuMaxOrder; n++ {
		refCounts := countNgrams(reference, n)
		candCounts := countNgrams(candidate, n)

		matches, total := 0, 0
		for g, c := range candCounts {
			total += c
			if rc, ok := refCounts[g]; ok {
				matches += min(c, rc)
			}
		}
		// Add-one smoothing keeps zero-match orders from collapsing the
		// geometric mean.
		p := (float64(matches) + 1) / (float64(total) + 1)
		logSum += math.Log(p) / bleuMaxOrder
	}

	score := math.Exp(logSum)
	if len(candidate) < len(reference) {
		score *= math.Exp(1 - float64(len(reference))/float64(len(candidate)))
	}
	if score > 1 {
		score = 1
	}
	return Result{Score: score, Explanation: "BLEU score comparing model output to expected output"}, nil
}
