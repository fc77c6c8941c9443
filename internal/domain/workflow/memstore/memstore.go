// Package memstore keeps goals, reviews, rollups and cycles in process
// memory. Writers take a single slot and publish an immutable snapshot on
// commit, so readers never wait for a unit of work.
package memstore

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"pms/internal/domain/workflow"
)

type rollupKey struct {
	employeeID string
	cycleID    string
}

type snapshot struct {
	goals   map[string]workflow.Goal
	reviews map[string]workflow.Review
	rollups map[rollupKey]workflow.Rollup
	cycles  map[string]workflow.Cycle
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		goals:   make(map[string]workflow.Goal, len(s.goals)),
		reviews: make(map[string]workflow.Review, len(s.reviews)),
		rollups: make(map[rollupKey]workflow.Rollup, len(s.rollups)),
		cycles:  make(map[string]workflow.Cycle, len(s.cycles)),
	}
	for k, v := range s.goals {
		next.goals[k] = v
	}
	for k, v := range s.reviews {
		next.reviews[k] = v
	}
	for k, v := range s.rollups {
		next.rollups[k] = v
	}
	for k, v := range s.cycles {
		next.cycles[k] = v
	}
	return next
}

type Store struct {
	// writer holds one token while a unit of work runs.
	writer chan struct{}
	snap   atomic.Pointer[snapshot]
}

func New() *Store {
	s := &Store{writer: make(chan struct{}, 1)}
	s.snap.Store(&snapshot{
		goals:   map[string]workflow.Goal{},
		reviews: map[string]workflow.Review{},
		rollups: map[rollupKey]workflow.Rollup{},
		cycles:  map[string]workflow.Cycle{},
	})
	return s
}

var _ workflow.StoreAPI = (*Store)(nil)

// Atomic waits for the writer slot until ctx is done; a caller that gives up
// gets ctx.Err() and nothing is written.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx workflow.TxAPI) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	next := s.snap.Load().clone()
	if err := fn(ctx, &txn{data: next}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

func (s *Store) GetGoal(ctx context.Context, goalID string) (workflow.Goal, error) {
	return getGoal(s.snap.Load(), goalID)
}

func (s *Store) ListGoals(ctx context.Context, filter workflow.GoalFilter) ([]workflow.Goal, error) {
	data := s.snap.Load()
	out := []workflow.Goal{}
	for _, g := range data.goals {
		if filter.OwnerID != "" && g.OwnerID != filter.OwnerID {
			continue
		}
		if filter.CycleID != "" && g.CycleID != filter.CycleID {
			continue
		}
		if filter.NonTerminal && g.State.Terminal() {
			continue
		}
		if len(filter.States) > 0 && !containsState(filter.States, g.State) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListReviews(ctx context.Context, filter workflow.ReviewFilter) ([]workflow.Review, error) {
	data := s.snap.Load()
	out := []workflow.Review{}
	for _, r := range data.reviews {
		if filter.CycleID != "" && r.CycleID != filter.CycleID {
			continue
		}
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.ReviewerID != "" && r.ReviewerID != filter.ReviewerID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListRollups(ctx context.Context, cycleID string) ([]workflow.Rollup, error) {
	data := s.snap.Load()
	out := []workflow.Rollup{}
	for k, r := range data.rollups {
		if k.cycleID == cycleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (s *Store) GetCycle(ctx context.Context, cycleID string) (workflow.Cycle, error) {
	cycle, ok := s.snap.Load().cycles[cycleID]
	if !ok {
		return workflow.Cycle{}, workflow.NotFoundError("cycle", nil)
	}
	return cycle, nil
}

func (s *Store) ListCycles(ctx context.Context) ([]workflow.Cycle, error) {
	data := s.snap.Load()
	out := make([]workflow.Cycle, 0, len(data.cycles))
	for _, c := range data.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateCycle(ctx context.Context, cycle workflow.Cycle) error {
	return s.write(ctx, func(data *snapshot) error {
		if _, ok := data.cycles[cycle.ID]; ok {
			return workflow.DuplicateError("cycle", nil)
		}
		data.cycles[cycle.ID] = cycle
		return nil
	})
}

func (s *Store) CloseCycle(ctx context.Context, cycleID string) (workflow.Cycle, error) {
	var closed workflow.Cycle
	err := s.write(ctx, func(data *snapshot) error {
		cycle, ok := data.cycles[cycleID]
		if !ok {
			return workflow.NotFoundError("cycle", nil)
		}
		cycle.Status = workflow.CycleStatusClosed
		data.cycles[cycleID] = cycle
		closed = cycle
		return nil
	})
	return closed, err
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		s.unlock()
		return err
	}
	return nil
}

func (s *Store) unlock() {
	<-s.writer
}

func (s *Store) write(ctx context.Context, fn func(data *snapshot) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	next := s.snap.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

type txn struct {
	data *snapshot
}

func (t *txn) GetGoal(ctx context.Context, goalID string) (workflow.Goal, error) {
	return getGoal(t.data, goalID)
}

func (t *txn) InsertGoal(ctx context.Context, goal workflow.Goal) error {
	if _, ok := t.data.goals[goal.ID]; ok {
		return workflow.DuplicateError("goal", nil)
	}
	t.data.goals[goal.ID] = goal
	return nil
}

func (t *txn) CompareAndSwapGoal(ctx context.Context, goal workflow.Goal, expected workflow.State) error {
	current, ok := t.data.goals[goal.ID]
	if !ok {
		return workflow.NotFoundError("goal", nil)
	}
	if current.State != expected {
		return workflow.ConflictError("goal state changed to "+string(current.State), nil)
	}
	if current.Version != goal.Version-1 {
		return workflow.ConflictError("goal was modified concurrently", nil)
	}
	t.data.goals[goal.ID] = goal
	return nil
}

func (t *txn) ReviewByGoal(ctx context.Context, goalID string) (workflow.Review, error) {
	review, ok := t.data.reviews[goalID]
	if !ok {
		return workflow.Review{}, workflow.NotFoundError("review", nil)
	}
	return review, nil
}

func (t *txn) SaveReview(ctx context.Context, review workflow.Review) error {
	t.data.reviews[review.GoalID] = review
	return nil
}

// LockRollup is a no-op: the unit of work already holds the writer slot.
func (t *txn) LockRollup(ctx context.Context, employeeID, cycleID string) error {
	return nil
}

func (t *txn) ApprovedRatings(ctx context.Context, employeeID, cycleID string) ([]int, error) {
	var ratings []int
	for _, r := range t.data.reviews {
		if r.EmployeeID == employeeID && r.CycleID == cycleID {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}

func (t *txn) SetCompositeScore(ctx context.Context, employeeID, cycleID string, score decimal.Decimal) error {
	for goalID, r := range t.data.reviews {
		if r.EmployeeID == employeeID && r.CycleID == cycleID {
			r.CompositeScore = score
			t.data.reviews[goalID] = r
		}
	}
	return nil
}

func (t *txn) CountGoals(ctx context.Context, employeeID, cycleID string) (int, int, error) {
	total, completed := 0, 0
	for _, g := range t.data.goals {
		if g.OwnerID != employeeID || g.CycleID != cycleID || g.State == workflow.StateDraft {
			continue
		}
		total++
		if g.State.Terminal() {
			completed++
		}
	}
	return total, completed, nil
}

func (t *txn) SaveRollup(ctx context.Context, rollup workflow.Rollup) error {
	t.data.rollups[rollupKey{employeeID: rollup.EmployeeID, cycleID: rollup.CycleID}] = rollup
	return nil
}

func getGoal(data *snapshot, goalID string) (workflow.Goal, error) {
	goal, ok := data.goals[goalID]
	if !ok {
		return workflow.Goal{}, workflow.NotFoundError("goal", nil)
	}
	return goal, nil
}

func containsState(states []workflow.State, s workflow.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
