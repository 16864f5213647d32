// Package scoring defines the scorer contract one rubric variant must satisfy
// and ships the concrete strategies: an Anthropic judge for llm rubrics and
// the automated metrics (BLEU, ROUGE, TF-IDF cosine similarity).
package scoring

import (
	"context"
	"errors"
	"fmt"

	"eaas/internal/rubric"
)

// Item is one scoring unit.
type Item struct {
	Prompt         string
	ModelOutput    string
	ExpectedOutput string
}

// Result is a successful score in the rubric's declared scale. Explanation is
// only populated by judge-based scorers.
type Result struct {
	Score       float64
	Explanation string
}

// ErrorKind classifies per-item scoring failures. They are non-fatal to the
// owning run.
type ErrorKind string

const (
	KindTimeout                ErrorKind = "timeout"
	KindInvalidScore           ErrorKind = "invalid_score"
	KindMalformedJudgeResponse ErrorKind = "malformed_judge_response"
	KindUpstreamFailure        ErrorKind = "upstream_failure"
)

// ScoreError is the structured failure a scorer call yields.
type ScoreError struct {
	Kind    ErrorKind
	Message string
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func scoreErrorf(kind ErrorKind, format string, args ...any) *ScoreError {
	return &ScoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps an arbitrary scorer fault to a ScoreError. Deadline and
// cancellation become Timeout; anything else is an UpstreamFailure.
func Classify(err error) *ScoreError {
	var se *ScoreError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return scoreErrorf(KindTimeout, "scoring timed out: %v", err)
	}
	return scoreErrorf(KindUpstreamFailure, "%v", err)
}

// Scorer scores one item under a rubric. Implementations return either a
// Result or an error classifiable via Classify; they never abort the run.
type Scorer interface {
	Score(ctx context.Context, item Item, cfg rubric.Config) (Result, error)
}

// Factory builds the scorer for a rubric variant.
type Factory struct {
	// AnthropicAPIKey and JudgeModel configure the llm judge.
	AnthropicAPIKey string
	JudgeModel      string
}

// ForConfig dispatches on the rubric variant.
func (f *Factory) ForConfig(cfg rubric.Config) (Scorer, error) {
	switch cfg.Type {
	case rubric.TypeLLM:
		return NewJudge(f.AnthropicAPIKey, f.JudgeModel), nil
	case rubric.TypeBLEU:
		return &BLEU{}, nil
	case rubric.TypeROUGE:
		return &ROUGE{}, nil
	case rubric.TypeSimilarity:
		return &Similarity{}, nil
	default:
		return nil, fmt.Errorf("scoring: no scorer for rubric type %q", cfg.Type)
	}
}
