package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"eaas/internal/run"
)

// ErrNotFound is returned when an evaluation or item does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for evaluations and their items. It
// satisfies run.Sink so the scoring driver can write through it.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping() error { return s.db.Ping() }

// CreateEvaluation inserts the run row and all item rows in one transaction:
// either everything is persisted or nothing is, so a failed item batch never
// leaves an orphaned run.
func (s *Store) CreateEvaluation(ctx context.Context, ev *Evaluation, items []EvaluationItem) error {
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into evaluations(id, name, rubric, threshold, model_version, status, total_items)
			values ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, ev.Name, ev.Rubric, ev.Threshold, ev.ModelVersion, ev.Status, ev.TotalItems)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		for i := range items {
			it := &items[i]
			_, err := tx.ExecContext(ctx, `
				insert into evaluation_items(id, evaluation_id, position, prompt, model_output, expected_output, status)
				values ($1, $2, $3, $4, $5, $6, $7)`,
				it.ID, it.EvaluationID, it.Position, it.Prompt, it.ModelOutput, it.ExpectedOutput, it.Status)
			if err != nil {
				return fmt.Errorf("insert item %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Store) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	var ev Evaluation
	err := s.db.GetContext(ctx, &ev, `select * from evaluations where id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetItems returns a run's items in creation order regardless of the order
// scoring completed in.
func (s *Store) GetItems(ctx context.Context, evaluationID string) ([]EvaluationItem, error) {
	var items []EvaluationItem
	err := s.db.SelectContext(ctx, &items, `
		select * from evaluation_items where evaluation_id=$1 order by position asc`, evaluationID)
	return items, err
}

func (s *Store) ListEvaluations(ctx context.Context, limit, offset int) ([]Evaluation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var evs []Evaluation
	err := s.db.SelectContext(ctx, &evs, `
		select * from evaluations order by created_at desc limit $1 offset $2`, limit, offset)
	return evs, err
}

// MarkRunning moves a pending evaluation to running. A no-op when the run is
// already past pending.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update evaluations set status='running' where id=$1 and status='pending'`, id)
	return err
}

// UpdateItemScored records a score for a pending item and bumps the parent
// run's completed counter. Terminal items are untouched, so re-dispatching a
// finished item neither overwrites the result nor double counts.
func (s *Store) UpdateItemScored(ctx context.Context, itemID string, score float64, explanation string) error {
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var evaluationID string
		err := tx.GetContext(ctx, &evaluationID, `
			update evaluation_items
			set status='scored', score=$2, explanation=$3, error_message=null
			where id=$1 and status='pending'
			returning evaluation_id`, itemID, score, explanation)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update item %s: %w", itemID, err)
		}
		_, err = tx.ExecContext(ctx, `
			update evaluations set completed_items = completed_items + 1 where id=$1`, evaluationID)
		return err
	})
}

// UpdateItemError marks a pending item as errored, bumping the completed
// counter the same way a score does.
func (s *Store) UpdateItemError(ctx context.Context, itemID, message string) error {
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var evaluationID string
		err := tx.GetContext(ctx, &evaluationID, `
			update evaluation_items
			set status='error', error_message=$2
			where id=$1 and status='pending'
			returning evaluation_id`, itemID, message)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update item %s: %w", itemID, err)
		}
		_, err = tx.ExecContext(ctx, `
			update evaluations set completed_items = completed_items + 1 where id=$1`, evaluationID)
		return err
	})
}

// UpdateRunAggregate settles the run's terminal (or failed) state, aggregate
// score and progress counter.
func (s *Store) UpdateRunAggregate(ctx context.Context, runID string, status run.Status, averageScore *float64, completedItems int, errorMessage string) error {
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		update evaluations
		set status=$2, average_score=$3, completed_items=$4, error_message=$5
		where id=$1`,
		runID, string(status), averageScore, completedItems, msg)
	return err
}
