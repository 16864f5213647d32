package scoring

import (
	"context"
	"fmt"
	"math"

	"eaas/internal/rubric"
)

// Similarity scores the cosine similarity of TF-IDF vectors built over the
// expected and model outputs (two-document corpus, smoothed IDF).
type Similarity struct{}

func (s *Similarity) Score(ctx context.Context, item Item, cfg rubric.Config) (Result, error) {
	if item.ExpectedOutput == "" {
		return Result{}, scoreErrorf(KindUpstreamFailure, "similarity scoring requires expected_output")
	}

	sim := tfidfCosine(tokenize(item.ExpectedOutput), tokenize(item.ModelOutput))
	return Result{
		Score:       sim,
		Explanation: fmt.Sprintf("Cosine similarity between expected and model output: %.3f", sim),
	}, nil
}

func tfidfCosine(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	tfA := termCounts(a)
	tfB := termCounts(b)

	vocab := make(map[string]struct{}, len(tfA)+len(tfB))
	for t := range tfA {
		vocab[t] = struct{}{}
	}
	for t := range tfB {
		vocab[t] = struct{}{}
	}

	// Smoothed IDF over the two-document corpus: ln((1+n)/(1+df)) + 1.
	const n = 2.0
	var dot, normA, normB float64
	for t := range vocab {
		df := 0.0
		if tfA[t] > 0 {
			df++
		}
		if tfB[t] > 0 {
			df++
		}
		idf := math.Log((1+n)/(1+df)) + 1
		wa := float64(tfA[t]) * idf
		wb := float64(tfB[t]) * idf
		dot += wa * wb
		normA += wa * wa
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
