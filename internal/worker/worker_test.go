package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"eaas/internal/config"
	"eaas/internal/db"
	"eaas/internal/rubric"
	"eaas/internal/run"
	"eaas/internal/scoring"
)

type fakeStore struct {
	mu sync.Mutex

	ev    *db.Evaluation
	items []db.EvaluationItem

	scored  map[string]float64
	errored map[string]string

	aggWritten   bool
	aggStatus    run.Status
	aggAvg       *float64
	aggCompleted int
	aggErrMsg    string
}

func newFakeStore(ev *db.Evaluation, items []db.EvaluationItem) *fakeStore {
	return &fakeStore{ev: ev, items: items, scored: map[string]float64{}, errored: map[string]string{}}
}

func (f *fakeStore) GetEvaluation(ctx context.Context, id string) (*db.Evaluation, error) {
	if f.ev == nil || f.ev.ID != id {
		return nil, db.ErrNotFound
	}
	ev := *f.ev
	return &ev, nil
}

func (f *fakeStore) GetItems(ctx context.Context, evaluationID string) ([]db.EvaluationItem, error) {
	return f.items, nil
}

func (f *fakeStore) MarkRunning(ctx context.Context, id string) error {
	if f.ev.Status == string(run.StatusPending) {
		f.ev.Status = string(run.StatusRunning)
	}
	return nil
}

func (f *fakeStore) UpdateItemScored(ctx context.Context, itemID string, score float64, explanation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scored[itemID] = score
	return nil
}

func (f *fakeStore) UpdateItemError(ctx context.Context, itemID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored[itemID] = message
	return nil
}

func (f *fakeStore) UpdateRunAggregate(ctx context.Context, runID string, status run.Status, averageScore *float64, completedItems int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggWritten = true
	f.aggStatus = status
	f.aggAvg = averageScore
	f.aggCompleted = completedItems
	f.aggErrMsg = errorMessage
	return nil
}

func newTestServer(store Store) *Server {
	return &Server{
		Store:   store,
		Scorers: &scoring.Factory{},
		Cfg:     &config.Config{ScoreConcurrency: 2, ScoreTimeout: time.Second, ScoreMaxRetries: 1},
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func bleuEvaluation(id string) *db.Evaluation {
	rubricJSON, _ := json.Marshal(map[string]string{"type": "bleu"})
	return &db.Evaluation{
		ID:         id,
		Name:       "bleu run",
		Rubric:     rubricJSON,
		Status:     string(run.StatusPending),
		TotalItems: 2,
	}
}

func ref(s string) *string { return &s }

func TestHandleScoreSettlesRun(t *testing.T) {
	store := newFakeStore(bleuEvaluation("ev-1"), []db.EvaluationItem{
		{ID: "i1", EvaluationID: "ev-1", Prompt: "p1", ModelOutput: "the capital is paris", ExpectedOutput: ref("the capital is paris"), Status: string(run.ItemPending)},
		{ID: "i2", EvaluationID: "ev-1", Prompt: "p2", ModelOutput: "tokyo", ExpectedOutput: ref("the capital is tokyo"), Status: string(run.ItemPending)},
	})
	s := newTestServer(store)

	if err := s.handleScore(context.Background(), NewScoreTask("ev-1")); err != nil {
		t.Fatal(err)
	}

	if len(store.scored) != 2 {
		t.Fatalf("persisted %d scores, want 2", len(store.scored))
	}
	if store.aggStatus != run.StatusCompleted || store.aggCompleted != 2 {
		t.Fatalf("aggregate = %s/%d, want completed/2", store.aggStatus, store.aggCompleted)
	}
	if store.aggAvg == nil {
		t.Fatal("aggregate average missing")
	}
}

func TestHandleScoreUnknownRunIsDropped(t *testing.T) {
	store := newFakeStore(bleuEvaluation("ev-1"), nil)
	s := newTestServer(store)

	// The task must be consumed, not retried, when its run no longer exists.
	if err := s.handleScore(context.Background(), NewScoreTask("gone")); err != nil {
		t.Fatal(err)
	}
	if store.aggWritten {
		t.Fatal("aggregate written for an unknown run")
	}
}

func TestHandleScoreSkipsTerminalRun(t *testing.T) {
	ev := bleuEvaluation("ev-1")
	ev.Status = string(run.StatusCompleted)
	store := newFakeStore(ev, []db.EvaluationItem{
		{ID: "i1", EvaluationID: "ev-1", Prompt: "p1", ModelOutput: "out", ExpectedOutput: ref("out"), Status: string(run.ItemScored)},
	})
	s := newTestServer(store)

	if err := s.handleScore(context.Background(), NewScoreTask("ev-1")); err != nil {
		t.Fatal(err)
	}
	if len(store.scored) != 0 || store.aggWritten {
		t.Fatal("terminal run was re-scored")
	}
}

func TestPersistFailureKeepsProgress(t *testing.T) {
	store := newFakeStore(bleuEvaluation("ev-1"), nil)
	s := newTestServer(store)

	score := 0.8
	items := []run.Item{
		{ID: "i1", Prompt: "p1", ModelOutput: "out", ExpectedOutput: "ref", Score: &score, Status: run.ItemScored},
		{ID: "i2", Prompt: "p2", ModelOutput: "out", ExpectedOutput: "ref", Status: run.ItemPending},
	}
	r, err := run.Rehydrate("ev-1", "resumed", mustRubric(t), nil, run.StatusRunning, items)
	if err != nil {
		t.Fatal(err)
	}

	s.persistFailure(r, errors.New("no scorer for rubric"))

	if store.aggStatus != run.StatusFailed {
		t.Fatalf("status = %s, want failed", store.aggStatus)
	}
	// Earlier progress survives the failure write.
	if store.aggCompleted != 1 {
		t.Fatalf("completed = %d, want 1", store.aggCompleted)
	}
	if store.aggAvg == nil || *store.aggAvg != 0.8 {
		t.Fatalf("average = %v, want 0.8", store.aggAvg)
	}
	if store.aggErrMsg == "" {
		t.Fatal("failure reason not persisted")
	}
}

func mustRubric(t *testing.T) rubric.Config {
	t.Helper()
	var cfg rubric.Config
	if err := json.Unmarshal([]byte(`{"type":"bleu"}`), &cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}
