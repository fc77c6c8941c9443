package workflow_test

import (
	"context"
	"testing"
	"time"

	"pms/internal/domain/auth"
	"pms/internal/domain/workflow"
	"pms/internal/domain/workflow/memstore"
	"pms/internal/platform/directory"
)

const testCycle = "2026-h1"

var (
	hr       = workflow.Actor{ID: "hr-1", Role: auth.RoleHR}
	mgr      = workflow.Actor{ID: "mgr-1", Role: auth.RoleManager}
	otherMgr = workflow.Actor{ID: "mgr-2", Role: auth.RoleManager}
	emp      = workflow.Actor{ID: "emp-1", Role: auth.RoleEmployee}
	emp2     = workflow.Actor{ID: "emp-2", Role: auth.RoleEmployee}
	outsider = workflow.Actor{ID: "emp-3", Role: auth.RoleEmployee}
)

type fixture struct {
	store     *memstore.Store
	dir       *directory.Static
	engine    *workflow.Engine
	projector *workflow.Projector
}

func testDirectory(t *testing.T) *directory.Static {
	t.Helper()
	dir, err := directory.NewStatic(
		workflow.Person{ID: "hr-1", Name: "Hana", Role: auth.RoleHR, Department: "People"},
		workflow.Person{ID: "mgr-1", Name: "Mateo", Role: auth.RoleManager, ManagerID: "hr-1", Department: "Engineering"},
		workflow.Person{ID: "mgr-2", Name: "Mira", Role: auth.RoleManager, ManagerID: "hr-1", Department: "Sales"},
		workflow.Person{ID: "emp-1", Name: "Esra", Role: auth.RoleEmployee, ManagerID: "mgr-1", Department: "Engineering"},
		workflow.Person{ID: "emp-2", Name: "Eli", Role: auth.RoleEmployee, ManagerID: "mgr-1", Department: "Engineering"},
		workflow.Person{ID: "emp-3", Name: "Ola", Role: auth.RoleEmployee, ManagerID: "mgr-2", Department: "Sales"},
	)
	if err != nil {
		t.Fatalf("directory error: %v", err)
	}
	return dir
}

func newFixture(t *testing.T, opts ...workflow.Option) *fixture {
	t.Helper()
	store := memstore.New()
	if err := store.CreateCycle(context.Background(), workflow.Cycle{
		ID:        testCycle,
		Label:     "H1 2026",
		Status:    workflow.CycleStatusOpen,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("cycle error: %v", err)
	}
	dir := testDirectory(t)
	projector := workflow.NewProjector(store, dir, nil)
	opts = append([]workflow.Option{workflow.WithListener(projector)}, opts...)
	engine, err := workflow.NewEngine(store, dir, opts...)
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	return &fixture{store: store, dir: dir, engine: engine, projector: projector}
}

func (f *fixture) assign(t *testing.T, actor workflow.Actor, targetID string) workflow.Goal {
	t.Helper()
	goal, err := f.engine.Assign(context.Background(), actor, workflow.AssignInput{
		CycleID:  testCycle,
		TargetID: targetID,
		Title:    "Ship the quarterly roadmap",
		Timeline: "quarterly",
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}
	return goal
}

// submitted walks a goal from assignment to submission.
func (f *fixture) submitted(t *testing.T, assigner, assignee workflow.Actor) workflow.Goal {
	t.Helper()
	ctx := context.Background()
	goal := f.assign(t, assigner, assignee.ID)
	if _, err := f.engine.Accept(ctx, assignee, goal.ID); err != nil {
		t.Fatalf("accept error: %v", err)
	}
	goal, err := f.engine.Submit(ctx, assignee, goal.ID, workflow.SubmitInput{Progress: intPtr(100)})
	if err != nil {
		t.Fatalf("submit error: %v", err)
	}
	return goal
}

func (f *fixture) approved(t *testing.T, assigner, assignee workflow.Actor, rating int) workflow.Approval {
	t.Helper()
	goal := f.submitted(t, assigner, assignee)
	approval, err := f.engine.Approve(context.Background(), assigner, goal.ID, workflow.ApproveInput{Rating: rating})
	if err != nil {
		t.Fatalf("approve error: %v", err)
	}
	return approval
}

func (f *fixture) state(t *testing.T, goalID string) workflow.State {
	t.Helper()
	goal, err := f.store.GetGoal(context.Background(), goalID)
	if err != nil {
		t.Fatalf("get goal error: %v", err)
	}
	return goal.State
}

func intPtr(v int) *int {
	return &v
}
