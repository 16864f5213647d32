package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"eaas/internal/scoring"
)

// Sink is the persistence collaborator the driver writes through. Item
// updates must be idempotent: updating an already-terminal item is a no-op
// on the sink side as well.
type Sink interface {
	UpdateItemScored(ctx context.Context, itemID string, score float64, explanation string) error
	UpdateItemError(ctx context.Context, itemID, message string) error
	UpdateRunAggregate(ctx context.Context, runID string, status Status, averageScore *float64, completedItems int, errorMessage string) error
}

// Driver pushes a run's pending items through the configured scorer with a
// bounded worker pool. Scorer faults are per-item errors; sink faults are
// fatal to the run.
type Driver struct {
	Scorer      scoring.Scorer
	Sink        Sink
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
	Logger      *slog.Logger
}

const (
	defaultConcurrency = 4
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
)

// Run drives every pending item to a terminal status, then finalizes the run
// and persists the aggregate. Already-terminal items are skipped, so calling
// Run again over a partially-scored run is safe and re-scores nothing.
//
// A context cancellation marks the run failed with still-pending items left
// pending. A sink failure does the same. In both cases the aggregate update
// is still attempted so partial progress stays visible.
func (d *Driver) Run(ctx context.Context, r *Run) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", r.ID())

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := d.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	if err := r.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, it := range r.Items() {
		if it.Status != ItemPending {
			continue
		}
		item := it
		g.Go(func() error {
			return d.scoreOne(gctx, logger, r, item, timeout, retries)
		})
	}

	// Barrier: no terminal transition until every completion is settled.
	waitErr := g.Wait()

	if waitErr != nil || ctx.Err() != nil {
		reason := "scoring driver aborted"
		switch {
		case waitErr != nil:
			reason = waitErr.Error()
		case ctx.Err() != nil:
			reason = fmt.Sprintf("run cancelled: %v", ctx.Err())
		}
		if err := r.Fail(reason); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
		d.persistAggregate(logger, r)
		if waitErr != nil {
			return waitErr
		}
		return ctx.Err()
	}

	if _, err := r.Finalize(); err != nil {
		return err
	}
	return d.persistAggregate(logger, r)
}

// scoreOne drives a single item to scored or error. Only sink failures are
// returned; scorer faults are captured on the item.
func (d *Driver) scoreOne(ctx context.Context, logger *slog.Logger, r *Run, item Item, timeout time.Duration, retries int) error {
	if err := ctx.Err(); err != nil {
		// The run is being cancelled; the item stays pending.
		return err
	}

	result, scoreErr := d.attemptWithRetries(ctx, logger, r, item, timeout, retries)
	if scoreErr != nil && ctx.Err() != nil {
		// A fault caused by the cancellation itself is not an item error.
		return ctx.Err()
	}

	if scoreErr == nil {
		// Out-of-scale results become invalid_score item errors, never
		// clamped values.
		if !r.Rubric().Scale.Contains(result.Score) {
			scoreErr = &scoring.ScoreError{
				Kind:    scoring.KindInvalidScore,
				Message: fmt.Sprintf("scorer returned %g outside the rubric scale", result.Score),
			}
		}
	}

	if scoreErr != nil {
		if err := r.MarkErrored(item.ID, scoreErr.Error()); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return nil // already terminal, idempotent no-op
			}
			return err
		}
		logger.Warn("item errored", "item_id", item.ID, "kind", string(scoreErr.Kind), "error", scoreErr.Message)
		if err := d.Sink.UpdateItemError(ctx, item.ID, scoreErr.Error()); err != nil {
			return fmt.Errorf("persist item error: %w", err)
		}
		return nil
	}

	if err := r.MarkScored(item.ID, result.Score, result.Explanation); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	logger.Debug("item scored", "item_id", item.ID, "score", result.Score)
	if err := d.Sink.UpdateItemScored(ctx, item.ID, result.Score, result.Explanation); err != nil {
		return fmt.Errorf("persist item score: %w", err)
	}
	return nil
}

// attemptWithRetries calls the scorer up to retries times with exponential
// backoff, each attempt under its own timeout.
func (d *Driver) attemptWithRetries(ctx context.Context, logger *slog.Logger, r *Run, item Item, timeout time.Duration, retries int) (scoring.Result, *scoring.ScoreError) {
	var lastErr *scoring.ScoreError
	for attempt := 1; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := d.Scorer.Score(attemptCtx, scoringItem(item), r.Rubric())
		cancel()
		if err == nil {
			return result, nil
		}

		lastErr = scoring.Classify(err)
		if ctx.Err() != nil {
			// The run itself is being cancelled; don't burn retries.
			return scoring.Result{}, lastErr
		}
		if attempt < retries {
			logger.Warn("scoring attempt failed",
				"item_id", item.ID, "attempt", attempt, "error", lastErr.Message)
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return scoring.Result{}, lastErr
			}
		}
	}
	return scoring.Result{}, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// persistAggregate pushes the run's current status, average and progress to
// the sink. Failures here are logged, not fatal: the run state machine has
// already settled.
func (d *Driver) persistAggregate(logger *slog.Logger, r *Run) error {
	completed, _ := r.Progress()
	err := d.Sink.UpdateRunAggregate(context.Background(), r.ID(), r.Status(), r.AverageScore(), completed, r.FailureReason())
	if err != nil {
		logger.Error("persist run aggregate", "error", err)
		return fmt.Errorf("persist run aggregate: %w", err)
	}
	return nil
}
