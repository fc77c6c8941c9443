package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"pms/internal/domain/auth"
)

func (e *Engine) CreateCycle(ctx context.Context, actor Actor, in CycleInput) (Cycle, error) {
	if err := checkActor(actor); err != nil {
		return Cycle{}, err
	}
	if actor.Role != auth.RoleHR {
		return Cycle{}, unauthorized("only hr can open review cycles")
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return Cycle{}, invalidInput("label is required")
	}
	if !in.PeriodStart.IsZero() && !in.PeriodEnd.IsZero() && in.PeriodEnd.Before(in.PeriodStart) {
		return Cycle{}, invalidInput("period_end must not be before period_start")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	cycle := Cycle{
		ID:          id,
		Label:       label,
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		Status:      CycleStatusOpen,
		CreatedAt:   e.now().UTC(),
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.store.CreateCycle(ctx, cycle); err != nil {
		return Cycle{}, e.storeErr(err)
	}
	return cycle, nil
}

// CloseCycle freezes a cycle: no new goals and no review amendments.
func (e *Engine) CloseCycle(ctx context.Context, actor Actor, cycleID string) (Cycle, error) {
	if err := checkActor(actor); err != nil {
		return Cycle{}, err
	}
	if actor.Role != auth.RoleHR {
		return Cycle{}, unauthorized("only hr can close review cycles")
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	cycle, err := e.store.CloseCycle(ctx, cycleID)
	if err != nil {
		return Cycle{}, e.storeErr(err)
	}
	return cycle, nil
}

func (e *Engine) ListCycles(ctx context.Context, actor Actor) ([]Cycle, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	cycles, err := e.store.ListCycles(ctx)
	if err != nil {
		return nil, e.storeErr(err)
	}
	return cycles, nil
}
