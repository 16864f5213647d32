// Package worker consumes scoring tasks from the queue and drives runs to
// a terminal status.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"eaas/internal/config"
	"eaas/internal/db"
	"eaas/internal/rubric"
	"eaas/internal/run"
	"eaas/internal/scoring"
)

// TaskScoreEvaluation carries an evaluation id as its payload.
const TaskScoreEvaluation = "evaluation:score"

func NewScoreTask(evaluationID string) *asynq.Task {
	return asynq.NewTask(TaskScoreEvaluation, []byte(evaluationID))
}

// Store is the persistence surface the worker needs; *db.Store satisfies it.
type Store interface {
	run.Sink
	GetEvaluation(ctx context.Context, id string) (*db.Evaluation, error)
	GetItems(ctx context.Context, evaluationID string) ([]db.EvaluationItem, error)
	MarkRunning(ctx context.Context, id string) error
}

type Server struct {
	Store   Store
	Scorers *scoring.Factory
	Cfg     *config.Config
	Log     *slog.Logger
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskScoreEvaluation, s.handleScore)
	return mux
}

// handleScore loads a run, rebuilds the in-memory aggregate and drives every
// pending item through the scorer. Scorer faults become per-item errors and
// the run still settles; only unexpected faults are surfaced, and even those
// return nil to asynq after the failure is persisted so the queue does not
// churn on retries that would hit the same wall.
func (s *Server) handleScore(ctx context.Context, t *asynq.Task) error {
	id := string(t.Payload())
	logger := s.Log.With("evaluation_id", id)
	logger.Info("scoring task received")

	r, err := s.loadRun(ctx, id)
	if err != nil {
		logger.Error("load run", "error", err)
		return nil
	}
	if r.Status().Terminal() {
		logger.Info("run already terminal", "status", string(r.Status()))
		return nil
	}

	scorer, err := s.Scorers.ForConfig(r.Rubric())
	if err != nil {
		logger.Error("build scorer", "error", err)
		s.persistFailure(r, err)
		return nil
	}

	if err := s.Store.MarkRunning(ctx, id); err != nil {
		logger.Error("mark running", "error", err)
		return nil
	}

	driver := &run.Driver{
		Scorer:      scorer,
		Sink:        s.Store,
		Concurrency: s.Cfg.ScoreConcurrency,
		Timeout:     s.Cfg.ScoreTimeout,
		MaxRetries:  s.Cfg.ScoreMaxRetries,
		Logger:      logger,
	}
	if err := driver.Run(ctx, r); err != nil {
		logger.Error("run aborted", "error", err)
		return nil
	}

	completed, total := r.Progress()
	logger.Info("run settled",
		"status", string(r.Status()), "completed", completed, "total", total)
	return nil
}

// loadRun rehydrates the in-memory aggregate from persisted rows, preserving
// item statuses so a re-dispatched run skips already-terminal items.
func (s *Server) loadRun(ctx context.Context, id string) (*run.Run, error) {
	ev, err := s.Store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	rows, err := s.Store.GetItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}

	var cfg rubric.Config
	if err := json.Unmarshal(ev.Rubric, &cfg); err != nil {
		return nil, fmt.Errorf("decode rubric: %w", err)
	}

	items := make([]run.Item, len(rows))
	for i, row := range rows {
		items[i] = run.Item{
			ID:          row.ID,
			Prompt:      row.Prompt,
			ModelOutput: row.ModelOutput,
			Score:       row.Score,
			Status:      run.ItemStatus(row.Status),
		}
		if row.ExpectedOutput != nil {
			items[i].ExpectedOutput = *row.ExpectedOutput
		}
		if row.Explanation != nil {
			items[i].Explanation = *row.Explanation
		}
		if row.ErrorMessage != nil {
			items[i].ErrorMessage = *row.ErrorMessage
		}
	}
	return run.Rehydrate(ev.ID, ev.Name, cfg, ev.Threshold, run.Status(ev.Status), items)
}

// persistFailure records a pre-scoring fault on the run row so pollers see a
// terminal failed state instead of a run stuck in pending. Progress and the
// partial average from any earlier dispatch carry over untouched.
func (s *Server) persistFailure(r *run.Run, cause error) {
	completed, _ := r.Progress()
	err := s.Store.UpdateRunAggregate(context.Background(), r.ID(), run.StatusFailed, r.AverageScore(), completed, cause.Error())
	if err != nil {
		s.Log.Error("persist run failure", "evaluation_id", r.ID(), "error", err)
	}
}

// Run blocks serving scoring tasks until the process is told to stop.
func Run(cfg *config.Config, store *db.Store, logger *slog.Logger) error {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{Concurrency: cfg.ScoreConcurrency},
	)
	w := &Server{
		Store:   store,
		Scorers: &scoring.Factory{AnthropicAPIKey: cfg.AnthropicAPIKey, JudgeModel: cfg.JudgeModel},
		Cfg:     cfg,
		Log:     logger,
	}
	return srv.Run(w.mux())
}
