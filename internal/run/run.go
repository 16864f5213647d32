// Package run owns the evaluation run aggregate: the per-item scoring state
// machine, run-level counters, aggregate score and pass/fail semantics, the
// concurrent scoring driver, and cross-run comparison.
package run

import (
	"errors"
	"fmt"
	"sync"

	"eaas/internal/rubric"
	"eaas/internal/scoring"
)

// ErrInvalidTransition is returned when a mutation targets a terminal run or
// a terminal item. It signals a caller bug, not an operational failure.
var ErrInvalidTransition = errors.New("invalid transition")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemScored  ItemStatus = "scored"
	ItemError   ItemStatus = "error"
)

// Item is one (prompt, model_output, expected_output?) scoring unit. Score is
// set only when Status is scored; ErrorMessage only when Status is error.
type Item struct {
	ID             string
	Prompt         string
	ModelOutput    string
	ExpectedOutput string
	Score          *float64
	Explanation    string
	ErrorMessage   string
	Status         ItemStatus
}

// Run is the aggregate root. All mutation goes through the methods below;
// reads always observe a consistent snapshot. The zero value is not usable —
// construct via New or Rehydrate.
type Run struct {
	mu sync.RWMutex

	id        string
	name      string
	rubric    rubric.Config
	threshold *float64
	status    Status
	items     []*Item
	completed int
	failure   string
}

// New validates the rubric against the items and builds a pending run with
// every item pending. A rejected input creates no state at all.
func New(id, name string, cfg rubric.Config, threshold *float64, inputs []rubric.ItemInput, itemIDs []string) (*Run, error) {
	if err := rubric.Validate(cfg, inputs); err != nil {
		return nil, err
	}
	if len(itemIDs) != len(inputs) {
		return nil, fmt.Errorf("run: %d item ids for %d items", len(itemIDs), len(inputs))
	}

	items := make([]*Item, len(inputs))
	for i, in := range inputs {
		items[i] = &Item{
			ID:             itemIDs[i],
			Prompt:         in.Prompt,
			ModelOutput:    in.ModelOutput,
			ExpectedOutput: in.ExpectedOutput,
			Status:         ItemPending,
		}
	}
	return &Run{
		id:        id,
		name:      name,
		rubric:    cfg,
		threshold: threshold,
		status:    StatusPending,
		items:     items,
	}, nil
}

// Rehydrate rebuilds a run from persisted state, preserving item statuses so
// a re-dispatched run skips already-terminal items. Items must be in
// creation order.
func Rehydrate(id, name string, cfg rubric.Config, threshold *float64, status Status, items []Item) (*Run, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("run %s: no items", id)
	}
	rs := make([]*Item, len(items))
	completed := 0
	for i := range items {
		it := items[i]
		rs[i] = &it
		if it.Status != ItemPending {
			completed++
		}
	}
	return &Run{
		id:        id,
		name:      name,
		rubric:    cfg,
		threshold: threshold,
		status:    status,
		items:     rs,
		completed: completed,
	}, nil
}

func (r *Run) ID() string            { return r.id }
func (r *Run) Name() string          { return r.name }
func (r *Run) Rubric() rubric.Config { return r.rubric }

// Threshold returns a copy of the pass threshold, nil when unset.
func (r *Run) Threshold() *float64 {
	if r.threshold == nil {
		return nil
	}
	t := *r.threshold
	return &t
}

func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Progress returns (completed, total). completed counts items in any
// terminal status, scored or error.
func (r *Run) Progress() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed, len(r.items)
}

// Items returns a snapshot of all items in creation order.
func (r *Run) Items() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Item, len(r.items))
	for i, it := range r.items {
		out[i] = *it
		if it.Score != nil {
			s := *it.Score
			out[i].Score = &s
		}
	}
	return out
}

// FailureReason returns the message recorded by Fail, if any.
func (r *Run) FailureReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// Start moves pending → running on first item dispatch. Starting an
// already-running run is a no-op; starting a terminal run is rejected.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusPending:
		r.status = StatusRunning
		return nil
	case StatusRunning:
		return nil
	default:
		return fmt.Errorf("start run %s from %s: %w", r.id, r.status, ErrInvalidTransition)
	}
}

// MarkScored records a successful score for a pending item. An out-of-scale
// score is rejected, not clamped; callers should convert the rejection into
// an item error of kind invalid_score.
func (r *Run) MarkScored(itemID string, score float64, explanation string) error {
	if !r.rubric.Scale.Contains(score) {
		lo, hi := r.rubric.Scale.Bounds()
		return fmt.Errorf("score %g outside scale [%g, %g]", score, lo, hi)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.mutableItem(itemID)
	if err != nil {
		return err
	}
	it.Status = ItemScored
	it.Score = &score
	it.Explanation = explanation
	r.completed++
	return nil
}

// MarkErrored records a scorer failure for a pending item. The run keeps
// going; error items still count toward completion.
func (r *Run) MarkErrored(itemID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.mutableItem(itemID)
	if err != nil {
		return err
	}
	it.Status = ItemError
	it.ErrorMessage = message
	r.completed++
	return nil
}

// mutableItem locates a pending item; terminal items and terminal runs are
// rejected with ErrInvalidTransition. Callers hold r.mu.
func (r *Run) mutableItem(itemID string) (*Item, error) {
	if r.status.Terminal() {
		return nil, fmt.Errorf("run %s is %s: %w", r.id, r.status, ErrInvalidTransition)
	}
	for _, it := range r.items {
		if it.ID == itemID {
			if it.Status != ItemPending {
				return nil, fmt.Errorf("item %s is %s: %w", itemID, it.Status, ErrInvalidTransition)
			}
			return it, nil
		}
	}
	return nil, fmt.Errorf("run %s: unknown item %s", r.id, itemID)
}

// AverageScore is the mean over scored items only; error and pending items
// are excluded from both numerator and denominator. Nil when nothing scored.
func (r *Run) AverageScore() *float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return averageScore(r.items)
}

func averageScore(items []*Item) *float64 {
	sum, n := 0.0, 0
	for _, it := range items {
		if it.Status == ItemScored && it.Score != nil {
			sum += *it.Score
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// Passed derives pass/fail: nil unless both a threshold and an average exist,
// else average >= threshold.
func (r *Run) Passed() *bool {
	avg := r.AverageScore()
	if r.threshold == nil || avg == nil {
		return nil
	}
	p := *avg >= *r.threshold
	return &p
}

// Finalize transitions running → completed once every item is terminal. If
// every item errored the run is failed instead and the average stays nil.
// Finalizing with pending items remaining or from a terminal state is
// rejected.
func (r *Run) Finalize() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return r.status, fmt.Errorf("finalize run %s from %s: %w", r.id, r.status, ErrInvalidTransition)
	}
	if r.completed != len(r.items) {
		return r.status, fmt.Errorf("finalize run %s: %d of %d items still pending", r.id, len(r.items)-r.completed, len(r.items))
	}

	allErrored := true
	for _, it := range r.items {
		if it.Status != ItemError {
			allErrored = false
			break
		}
	}
	if allErrored {
		r.status = StatusFailed
		r.failure = "all items failed to score"
	} else {
		r.status = StatusCompleted
	}
	return r.status, nil
}

// Fail force-transitions the run to failed: an infrastructure fault or a
// cancellation. Still-pending items stay pending so callers can see exactly
// which items were never attempted. Failing a terminal run is rejected.
func (r *Run) Fail(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return fmt.Errorf("fail run %s from %s: %w", r.id, r.status, ErrInvalidTransition)
	}
	r.status = StatusFailed
	r.failure = reason
	return nil
}

// scoringItem converts an item for the scorer contract.
func scoringItem(it Item) scoring.Item {
	return scoring.Item{
		Prompt:         it.Prompt,
		ModelOutput:    it.ModelOutput,
		ExpectedOutput: it.ExpectedOutput,
	}
}
