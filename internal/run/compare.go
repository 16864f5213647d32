package run

import "math"

// DefaultEpsilon is the band within which an aggregate or per-item delta is
// reported as unchanged. Averages over many items rarely differ by an exact
// zero, so comparison consumers tune this rather than testing equality.
const DefaultEpsilon = 1e-3

type Outcome string

const (
	OutcomeImprovement Outcome = "improvement"
	OutcomeRegression  Outcome = "regression"
	OutcomeUnchanged   Outcome = "unchanged"
)

// Side is one run's contribution to a comparison: its identity, aggregate,
// and items in creation order. It is independent of how the run was produced;
// pending items simply contribute nil scores.
type Side struct {
	RunID        string   `json:"run_id"`
	Name         string   `json:"name"`
	ModelVersion string   `json:"model_version,omitempty"`
	AverageScore *float64 `json:"average_score"`
	Items        []Item   `json:"-"`
}

// ItemDelta is one row of the item-by-item comparison, keyed by the baseline
// item's prompt.
type ItemDelta struct {
	Prompt  string   `json:"prompt"`
	Score1  *float64 `json:"score1"`
	Score2  *float64 `json:"score2"`
	Delta   *float64 `json:"delta"`
	Outcome Outcome  `json:"outcome"`
}

// Result is the full cross-run comparison. It is derived, never persisted.
type Result struct {
	Baseline       Side        `json:"baseline"`
	Candidate      Side        `json:"candidate"`
	AggregateDelta *float64    `json:"aggregate_delta"`
	Outcome        Outcome     `json:"outcome"`
	Improvements   int         `json:"improvements"`
	Regressions    int         `json:"regressions"`
	Items          []ItemDelta `json:"items"`
}

// Compare matches the candidate run against the baseline and computes
// per-item and aggregate deltas.
//
// Matching is driven left-to-right from the baseline: for each baseline item
// the first candidate item with an exactly equal prompt wins (case-sensitive,
// no normalization; duplicate prompts bind to the first occurrence).
// Candidate items with no baseline counterpart are not surfaced. Deltas are
// computed only when both sides are scored.
func Compare(baseline, candidate Side, epsilon float64) Result {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	var aggDelta *float64
	if baseline.AverageScore != nil && candidate.AverageScore != nil {
		d := *candidate.AverageScore - *baseline.AverageScore
		aggDelta = &d
	}

	deltas := make([]ItemDelta, 0, len(baseline.Items))
	improvements, regressions := 0, 0
	for _, it := range baseline.Items {
		row := ItemDelta{
			Prompt: it.Prompt,
			Score1: scoredValue(it),
		}
		if match := firstByPrompt(candidate.Items, it.Prompt); match != nil {
			row.Score2 = scoredValue(*match)
		}
		if row.Score1 != nil && row.Score2 != nil {
			d := *row.Score2 - *row.Score1
			row.Delta = &d
		}
		row.Outcome = classify(row.Delta, epsilon)
		switch row.Outcome {
		case OutcomeImprovement:
			improvements++
		case OutcomeRegression:
			regressions++
		}
		deltas = append(deltas, row)
	}

	return Result{
		Baseline:       stripItems(baseline),
		Candidate:      stripItems(candidate),
		AggregateDelta: aggDelta,
		Outcome:        classify(aggDelta, epsilon),
		Improvements:   improvements,
		Regressions:    regressions,
		Items:          deltas,
	}
}

func classify(delta *float64, epsilon float64) Outcome {
	if delta == nil || math.Abs(*delta) < epsilon {
		return OutcomeUnchanged
	}
	if *delta > 0 {
		return OutcomeImprovement
	}
	return OutcomeRegression
}

func scoredValue(it Item) *float64 {
	if it.Status != ItemScored || it.Score == nil {
		return nil
	}
	s := *it.Score
	return &s
}

func firstByPrompt(items []Item, prompt string) *Item {
	for i := range items {
		if items[i].Prompt == prompt {
			return &items[i]
		}
	}
	return nil
}

func stripItems(s Side) Side {
	s.Items = nil
	return s
}
