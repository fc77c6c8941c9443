package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregator maintains reviews and per-employee rollups. It only runs inside
// a unit of work opened by the engine.
type Aggregator struct {
	now func() time.Time
}

func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// OnApproved upserts the review for an approved goal and refreshes the
// owner's composite score and rollup. Calling it twice with the same input
// leaves one review.
func (a *Aggregator) OnApproved(ctx context.Context, tx TxAPI, goal Goal, rating int, comments, reviewerID string) (Review, error) {
	if goal.ID == "" {
		return Review{}, NotFoundError("goal", nil)
	}
	if rating < MinRating || rating > MaxRating {
		return Review{}, invalidInput(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	if err := tx.LockRollup(ctx, goal.OwnerID, goal.CycleID); err != nil {
		return Review{}, fmt.Errorf("lock rollup: %w", err)
	}
	now := a.now().UTC()

	review, err := tx.ReviewByGoal(ctx, goal.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		review = Review{
			ID:        uuid.NewString(),
			GoalID:    goal.ID,
			CreatedAt: now,
		}
	case err != nil:
		return Review{}, fmt.Errorf("load review: %w", err)
	}

	review.CycleID = goal.CycleID
	review.EmployeeID = goal.OwnerID
	review.ReviewerID = reviewerID
	review.Rating = rating
	review.RatingLabel = RatingLabel(rating)
	review.Comments = comments
	review.Status = ReviewStatusFinal
	review.UpdatedAt = now
	if err := tx.SaveReview(ctx, review); err != nil {
		return Review{}, fmt.Errorf("save review: %w", err)
	}

	rollup, err := a.Refresh(ctx, tx, goal.OwnerID, goal.CycleID)
	if err != nil {
		return Review{}, err
	}
	review.CompositeScore = rollup.CompositeScore
	return review, nil
}

// Refresh recomputes the employee's composite score and goal counts for the
// cycle and stores them. Ratings and counts are read under the rollup lock,
// so a refresh that waited sees every review committed before it.
func (a *Aggregator) Refresh(ctx context.Context, tx TxAPI, employeeID, cycleID string) (Rollup, error) {
	if err := tx.LockRollup(ctx, employeeID, cycleID); err != nil {
		return Rollup{}, fmt.Errorf("lock rollup: %w", err)
	}
	ratings, err := tx.ApprovedRatings(ctx, employeeID, cycleID)
	if err != nil {
		return Rollup{}, fmt.Errorf("load ratings: %w", err)
	}
	score := CompositeScore(ratings)
	if len(ratings) > 0 {
		if err := tx.SetCompositeScore(ctx, employeeID, cycleID, score); err != nil {
			return Rollup{}, fmt.Errorf("set composite score: %w", err)
		}
	}

	total, completed, err := tx.CountGoals(ctx, employeeID, cycleID)
	if err != nil {
		return Rollup{}, fmt.Errorf("count goals: %w", err)
	}
	rollup := Rollup{
		EmployeeID:     employeeID,
		CycleID:        cycleID,
		GoalsTotal:     total,
		GoalsCompleted: completed,
		CompositeScore: score,
		UpdatedAt:      a.now().UTC(),
	}
	if err := tx.SaveRollup(ctx, rollup); err != nil {
		return Rollup{}, fmt.Errorf("save rollup: %w", err)
	}
	return rollup, nil
}

// CompositeScore is the arithmetic mean of ratings rounded half-up to two
// decimals. No ratings yields zero.
func CompositeScore(ratings []int) decimal.Decimal {
	if len(ratings) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range ratings {
		sum = sum.Add(decimal.NewFromInt(int64(r)))
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(ratings))), 2)
}
