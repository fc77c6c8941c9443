package workflow

import (
	"context"

	"github.com/shopspring/decimal"
)

// StoreAPI is the read side plus the unit-of-work entry point of a goal store.
type StoreAPI interface {
	GetGoal(ctx context.Context, goalID string) (Goal, error)
	ListGoals(ctx context.Context, filter GoalFilter) ([]Goal, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]Review, error)
	ListRollups(ctx context.Context, cycleID string) ([]Rollup, error)
	GetCycle(ctx context.Context, cycleID string) (Cycle, error)
	ListCycles(ctx context.Context) ([]Cycle, error)
	CreateCycle(ctx context.Context, cycle Cycle) error
	// CloseCycle moves an open cycle to closed; closing a closed cycle is a no-op.
	CloseCycle(ctx context.Context, cycleID string) (Cycle, error)
	// Atomic runs fn as one unit of work. Writes made through tx commit only
	// when fn returns nil.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx TxAPI) error) error
}

// TxAPI is the write side available inside a unit of work.
type TxAPI interface {
	GetGoal(ctx context.Context, goalID string) (Goal, error)
	InsertGoal(ctx context.Context, goal Goal) error
	// CompareAndSwapGoal writes goal only if the stored state still equals
	// expected and the stored version is goal.Version-1. A miss returns an
	// error matching ErrStateConflict.
	CompareAndSwapGoal(ctx context.Context, goal Goal, expected State) error
	ReviewByGoal(ctx context.Context, goalID string) (Review, error)
	SaveReview(ctx context.Context, review Review) error
	// LockRollup serializes aggregate writes for one employee and cycle until
	// the unit of work ends. Taking it twice in one unit of work is allowed.
	LockRollup(ctx context.Context, employeeID, cycleID string) error
	ApprovedRatings(ctx context.Context, employeeID, cycleID string) ([]int, error)
	SetCompositeScore(ctx context.Context, employeeID, cycleID string, score decimal.Decimal) error
	// CountGoals counts assigned goals of an owner in a cycle and how many of
	// them reached a terminal state. Drafts are not counted.
	CountGoals(ctx context.Context, employeeID, cycleID string) (total, completed int, err error)
	SaveRollup(ctx context.Context, rollup Rollup) error
}
