package run

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"eaas/internal/rubric"
	"eaas/internal/scoring"
)

// scorerFunc adapts a function to the scorer contract.
type scorerFunc func(ctx context.Context, item scoring.Item, cfg rubric.Config) (scoring.Result, error)

func (f scorerFunc) Score(ctx context.Context, item scoring.Item, cfg rubric.Config) (scoring.Result, error) {
	return f(ctx, item, cfg)
}

// memorySink records driver writes for assertions.
type memorySink struct {
	mu sync.Mutex

	scored    map[string]float64
	errored   map[string]string
	aggStatus Status
	aggAvg    *float64
	aggDone   int
	aggErr    string

	failItemWrites bool
}

func newMemorySink() *memorySink {
	return &memorySink{scored: map[string]float64{}, errored: map[string]string{}}
}

func (s *memorySink) UpdateItemScored(ctx context.Context, itemID string, score float64, explanation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failItemWrites {
		return errors.New("database unreachable")
	}
	s.scored[itemID] = score
	return nil
}

func (s *memorySink) UpdateItemError(ctx context.Context, itemID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failItemWrites {
		return errors.New("database unreachable")
	}
	s.errored[itemID] = message
	return nil
}

func (s *memorySink) UpdateRunAggregate(ctx context.Context, runID string, status Status, averageScore *float64, completedItems int, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggStatus = status
	s.aggAvg = averageScore
	s.aggDone = completedItems
	s.aggErr = errorMessage
	return nil
}

func newDriver(scorer scoring.Scorer, sink Sink) *Driver {
	return &Driver{
		Scorer:      scorer,
		Sink:        sink,
		Concurrency: 2,
		Timeout:     time.Second,
		MaxRetries:  1, // retries back off in real time; single attempts keep tests fast
	}
}

func scoreByPrompt(scores map[string]float64) scorerFunc {
	return func(ctx context.Context, item scoring.Item, cfg rubric.Config) (scoring.Result, error) {
		s, ok := scores[item.Prompt]
		if !ok {
			return scoring.Result{}, &scoring.ScoreError{Kind: scoring.KindUpstreamFailure, Message: "no score for " + item.Prompt}
		}
		return scoring.Result{Score: s, Explanation: "stub"}, nil
	}
}

func TestDriverScoresAllItems(t *testing.T) {
	r := newTestRun(t, "a", "b", "c")
	sink := newMemorySink()
	d := newDriver(scoreByPrompt(map[string]float64{"a": 1.0, "b": 0.5, "c": 0.0}), sink)

	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", r.Status())
	}
	if len(sink.scored) != 3 {
		t.Fatalf("persisted %d scores, want 3", len(sink.scored))
	}
	if sink.aggStatus != StatusCompleted || sink.aggDone != 3 {
		t.Fatalf("aggregate = %s/%d, want completed/3", sink.aggStatus, sink.aggDone)
	}
	if sink.aggAvg == nil || *sink.aggAvg != 0.5 {
		t.Fatalf("aggregate average = %v, want 0.5", sink.aggAvg)
	}
}

func TestDriverCapturesScorerFaultsPerItem(t *testing.T) {
	r := newTestRun(t, "a", "b")
	sink := newMemorySink()
	d := newDriver(scoreByPrompt(map[string]float64{"a": 1.0}), sink)

	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	// One fault does not stop the run; it completes with a partial average.
	if r.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", r.Status())
	}
	if _, ok := sink.errored["b"]; !ok {
		t.Fatal("item b's error was not persisted")
	}
	if sink.aggAvg == nil || *sink.aggAvg != 1.0 {
		t.Fatalf("average = %v, want 1.0 over the single scored item", sink.aggAvg)
	}
}

func TestDriverFailsRunWhenEveryItemErrors(t *testing.T) {
	r := newTestRun(t, "a", "b")
	sink := newMemorySink()
	d := newDriver(scoreByPrompt(nil), sink)

	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.Status() != StatusFailed {
		t.Fatalf("status = %s, want failed", r.Status())
	}
	if sink.aggStatus != StatusFailed || sink.aggErr == "" {
		t.Fatalf("aggregate = %s %q, want failed with a reason", sink.aggStatus, sink.aggErr)
	}
	if sink.aggAvg != nil {
		t.Fatalf("average = %v, want nil", *sink.aggAvg)
	}
}

func TestDriverRejectsOutOfScaleScores(t *testing.T) {
	r := newTestRun(t, "a")
	sink := newMemorySink()
	d := newDriver(scoreByPrompt(map[string]float64{"a": 7.0}), sink)

	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	msg, ok := sink.errored["a"]
	if !ok {
		t.Fatal("out-of-scale score was not recorded as an item error")
	}
	if !strings.HasPrefix(msg, string(scoring.KindInvalidScore)) {
		t.Fatalf("error = %q, want kind %s", msg, scoring.KindInvalidScore)
	}
}

func TestDriverRetriesBeforeErroring(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	scorer := scorerFunc(func(ctx context.Context, item scoring.Item, cfg rubric.Config) (scoring.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return scoring.Result{}, &scoring.ScoreError{Kind: scoring.KindUpstreamFailure, Message: "flaky"}
		}
		return scoring.Result{Score: 1.0}, nil
	})

	r := newTestRun(t, "a")
	sink := newMemorySink()
	d := newDriver(scorer, sink)
	d.MaxRetries = 2

	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if got, ok := sink.scored["a"]; !ok || got != 1.0 {
		t.Fatalf("score = %v (persisted=%v), want 1.0", got, ok)
	}
}

func TestDriverSinkFailureFailsRun(t *testing.T) {
	r := newTestRun(t, "a", "b")
	sink := newMemorySink()
	sink.failItemWrites = true
	d := newDriver(scoreByPrompt(map[string]float64{"a": 1.0, "b": 1.0}), sink)

	if err := d.Run(context.Background(), r); err == nil {
		t.Fatal("sink failure not surfaced")
	}
	if r.Status() != StatusFailed {
		t.Fatalf("status = %s, want failed", r.Status())
	}
	// The terminal aggregate write still goes through.
	if sink.aggStatus != StatusFailed {
		t.Fatalf("aggregate status = %s, want failed", sink.aggStatus)
	}
}

func TestDriverCancellationLeavesItemsPending(t *testing.T) {
	r := newTestRun(t, "a", "b", "c")
	sink := newMemorySink()
	d := newDriver(scoreByPrompt(map[string]float64{"a": 1.0, "b": 1.0, "c": 1.0}), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx, r)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if r.Status() != StatusFailed {
		t.Fatalf("status = %s, want failed", r.Status())
	}
	for _, it := range r.Items() {
		if it.Status != ItemPending {
			t.Fatalf("item %s = %s, want pending", it.ID, it.Status)
		}
	}
}

func TestDriverSkipsTerminalItemsOnRedispatch(t *testing.T) {
	items := []Item{
		{ID: "a", Prompt: "a", ModelOutput: "out", ExpectedOutput: "ref", Score: ptr(0.2), Status: ItemScored},
		{ID: "b", Prompt: "b", ModelOutput: "out", ExpectedOutput: "ref", Status: ItemPending},
	}
	r, err := Rehydrate("run-1", "resumed", rubric.Default(), nil, StatusRunning, items)
	if err != nil {
		t.Fatal(err)
	}

	sink := newMemorySink()
	d := newDriver(scoreByPrompt(map[string]float64{"a": 1.0, "b": 0.8}), sink)
	if err := d.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	if _, rescored := sink.scored["a"]; rescored {
		t.Fatal("already-scored item was dispatched again")
	}
	if got := sink.scored["b"]; got != 0.8 {
		t.Fatalf("item b score = %g, want 0.8", got)
	}
	if avg := r.AverageScore(); avg == nil || *avg != 0.5 {
		t.Fatalf("average = %v, want 0.5 across both items", avg)
	}
}
