package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pms/internal/domain/workflow"
)

func TestCompositeScoreAcrossApprovedGoals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, rating := range []int{5, 3, 4} {
		f.approved(t, mgr, emp, rating)
	}

	reviews, err := f.store.ListReviews(ctx, workflow.ReviewFilter{EmployeeID: emp.ID, CycleID: testCycle})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("expected three reviews, got %d", len(reviews))
	}
	for _, r := range reviews {
		if !r.CompositeScore.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("expected composite 4.0 on every review, got %s", r.CompositeScore)
		}
	}

	rollups, _ := f.store.ListRollups(ctx, testCycle)
	if len(rollups) != 1 {
		t.Fatalf("unexpected rollups: %+v", rollups)
	}
	if rollups[0].GoalsTotal != 3 || rollups[0].GoalsCompleted != 3 || !rollups[0].CompositeScore.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unexpected rollup: %+v", rollups[0])
	}
}

func TestCompositeScoreRounding(t *testing.T) {
	cases := []struct {
		ratings []int
		want    string
	}{
		{ratings: nil, want: "0"},
		{ratings: []int{4}, want: "4"},
		{ratings: []int{1, 2}, want: "1.5"},
		{ratings: []int{4, 5, 5}, want: "4.67"},
		{ratings: []int{5, 4, 4}, want: "4.33"},
		{ratings: []int{1, 1, 2}, want: "1.33"},
	}
	for _, tc := range cases {
		got := workflow.CompositeScore(tc.ratings)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("CompositeScore(%v) = %s, want %s", tc.ratings, got, tc.want)
		}
	}
}

func TestRollupTracksAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.assign(t, mgr, emp.ID)
	f.assign(t, mgr, emp.ID)
	f.approved(t, mgr, emp, 2)

	rollups, _ := f.store.ListRollups(ctx, testCycle)
	if len(rollups) != 1 || rollups[0].GoalsTotal != 3 || rollups[0].GoalsCompleted != 1 {
		t.Fatalf("unexpected rollups: %+v", rollups)
	}
}

func TestOnApprovedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	approval := f.approved(t, mgr, emp, 4)
	agg := workflow.NewAggregator(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })

	for i := 0; i < 2; i++ {
		err := f.store.Atomic(ctx, func(ctx context.Context, tx workflow.TxAPI) error {
			_, err := agg.OnApproved(ctx, tx, approval.Goal, 4, "same", mgr.ID)
			return err
		})
		if err != nil {
			t.Fatalf("on approved error: %v", err)
		}
	}
	reviews, _ := f.store.ListReviews(ctx, workflow.ReviewFilter{})
	if len(reviews) != 1 || reviews[0].ID != approval.Review.ID || reviews[0].Comments != "same" {
		t.Fatalf("unexpected reviews: %+v", reviews)
	}
}

func TestOnApprovedWithoutGoal(t *testing.T) {
	f := newFixture(t)
	agg := workflow.NewAggregator(nil)
	err := f.store.Atomic(context.Background(), func(ctx context.Context, tx workflow.TxAPI) error {
		_, err := agg.OnApproved(ctx, tx, workflow.Goal{}, 4, "", mgr.ID)
		return err
	})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailedSideEffectRollsBackTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	goal := f.submitted(t, mgr, emp)
	boom := errors.New("side effect failed")

	err := f.store.Atomic(ctx, func(ctx context.Context, tx workflow.TxAPI) error {
		next := goal
		next.State = workflow.StateHRApproved
		next.Version++
		if err := tx.CompareAndSwapGoal(ctx, next, goal.State); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected side effect error, got %v", err)
	}
	if f.state(t, goal.ID) != workflow.StateEmployeeSubmitted {
		t.Fatalf("transition survived a failed side effect")
	}
}

func TestRebuildRollups(t *testing.T) {
	f := newFixture(t)
	f.approved(t, mgr, emp, 4)
	f.assign(t, hr, mgr.ID)

	count, err := f.engine.RebuildRollups(context.Background())
	if err != nil {
		t.Fatalf("rebuild error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two rollups, got %d", count)
	}
}
