package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"pms/internal/domain/workflow"
	"pms/internal/domain/workflow/memstore"
)

func TestPendingApprovalsByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgrGoal := f.submitted(t, hr, mgr)
	empGoal := f.submitted(t, mgr, emp)
	f.submitted(t, otherMgr, outsider)
	f.assign(t, mgr, emp2.ID)

	hrQueue, err := f.projector.PendingApprovals(ctx, hr)
	if err != nil {
		t.Fatalf("hr queue error: %v", err)
	}
	if len(hrQueue) != 1 || hrQueue[0].ID != mgrGoal.ID {
		t.Fatalf("unexpected hr queue: %+v", hrQueue)
	}

	mgrQueue, err := f.projector.PendingApprovals(ctx, mgr)
	if err != nil {
		t.Fatalf("manager queue error: %v", err)
	}
	if len(mgrQueue) != 1 || mgrQueue[0].ID != empGoal.ID {
		t.Fatalf("unexpected manager queue: %+v", mgrQueue)
	}

	if _, err := f.projector.PendingApprovals(ctx, emp); !errors.Is(err, workflow.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for employees, got %v", err)
	}
}

func TestMyAssignedGoals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.assign(t, mgr, emp.ID)
	f.approved(t, mgr, emp, 4)
	if _, err := f.engine.CreateDraft(ctx, mgr, workflow.AssignInput{CycleID: testCycle, TargetID: emp.ID, Title: "later", Timeline: "annual"}); err != nil {
		t.Fatalf("draft error: %v", err)
	}

	goals, err := f.projector.MyAssignedGoals(ctx, emp, testCycle)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(goals) != 1 || goals[0].ID != open.ID {
		t.Fatalf("unexpected goals: %+v", goals)
	}

	mine, _ := f.projector.MyAssignedGoals(ctx, mgr, "")
	if len(mine) != 0 {
		t.Fatalf("drafts should not be listed as assigned goals: %+v", mine)
	}
}

func TestReviewsForScopesByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, mgr, emp, 4)
	f.approved(t, otherMgr, outsider, 3)
	f.approved(t, hr, mgr, 5)

	cases := []struct {
		actor workflow.Actor
		want  int
	}{
		{actor: hr, want: 3},
		{actor: mgr, want: 2},
		{actor: otherMgr, want: 1},
		{actor: emp, want: 1},
		{actor: emp2, want: 0},
	}
	for _, tc := range cases {
		reviews, err := f.projector.ReviewsFor(ctx, tc.actor, testCycle)
		if err != nil {
			t.Fatalf("%s: %v", tc.actor.ID, err)
		}
		if len(reviews) != tc.want {
			t.Fatalf("%s: expected %d reviews, got %d", tc.actor.ID, tc.want, len(reviews))
		}
	}
}

func TestTeamGoalsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, mgr, emp, 4)
	f.assign(t, mgr, emp.ID)
	f.assign(t, otherMgr, outsider.ID)

	goals, err := f.projector.TeamGoals(ctx, mgr, emp.ID, testCycle)
	if err != nil {
		t.Fatalf("team goals error: %v", err)
	}
	if len(goals) != 2 {
		t.Fatalf("expected both of emp-1's goals, got %+v", goals)
	}
	for _, g := range goals {
		if g.OwnerID != emp.ID {
			t.Fatalf("unexpected owner in %+v", g)
		}
	}
	if other, _ := f.projector.TeamGoals(ctx, mgr, emp.ID, "2025-h2"); len(other) != 0 {
		t.Fatalf("expected cycle filter to apply, got %+v", other)
	}
	if all, err := f.projector.TeamGoals(ctx, hr, outsider.ID, ""); err != nil || len(all) != 1 {
		t.Fatalf("expected hr to see any employee, got %+v err=%v", all, err)
	}

	denied := []struct {
		name  string
		actor workflow.Actor
		id    string
		want  error
	}{
		{name: "other team", actor: mgr, id: outsider.ID, want: workflow.ErrUnauthorized},
		{name: "employee", actor: emp, id: emp.ID, want: workflow.ErrUnauthorized},
		{name: "missing id", actor: mgr, id: "", want: workflow.ErrInvalidInput},
	}
	for _, tc := range denied {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.projector.TeamGoals(ctx, tc.actor, tc.id, testCycle); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDashboardByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, mgr, emp, 5)
	f.assign(t, mgr, emp.ID)
	f.approved(t, mgr, emp2, 2)
	f.submitted(t, mgr, emp2)
	f.submitted(t, otherMgr, outsider)
	f.approved(t, hr, mgr, 4)

	cases := []struct {
		actor            workflow.Actor
		teamSize         int
		pending          int
		total, completed int
		average          string
		excellent, low   int
	}{
		{actor: hr, teamSize: 4, pending: 0, total: 6, completed: 3, average: "3.67", excellent: 1, low: 1},
		{actor: mgr, teamSize: 2, pending: 1, total: 5, completed: 3, average: "3.67", excellent: 1, low: 1},
		{actor: otherMgr, teamSize: 1, pending: 1, total: 1, completed: 0, average: "0"},
		{actor: emp, teamSize: 0, pending: 0, total: 2, completed: 1, average: "5", excellent: 1},
	}
	for _, tc := range cases {
		t.Run(tc.actor.ID, func(t *testing.T) {
			d, err := f.projector.Dashboard(ctx, tc.actor, testCycle)
			if err != nil {
				t.Fatalf("dashboard error: %v", err)
			}
			if d.TeamSize != tc.teamSize || d.PendingApprovals != tc.pending || d.TotalGoals != tc.total || d.CompletedGoals != tc.completed {
				t.Fatalf("unexpected counts: %+v", d)
			}
			if !d.AverageScore.Equal(decimal.RequireFromString(tc.average)) {
				t.Fatalf("expected average %s, got %s", tc.average, d.AverageScore)
			}
			if d.ExcellentCount != tc.excellent || d.NeedsImprovementCount != tc.low {
				t.Fatalf("unexpected bands: %+v", d)
			}
		})
	}

	if _, err := f.projector.Dashboard(ctx, hr, ""); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("expected missing cycle to be rejected, got %v", err)
	}
	if _, err := f.projector.Dashboard(ctx, hr, "nope"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected unknown cycle to be not found, got %v", err)
	}
}

func TestPerformanceReportScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, mgr, emp, 5)
	f.assign(t, mgr, emp2.ID)
	f.approved(t, otherMgr, outsider, 2)
	f.approved(t, hr, mgr, 4)

	all, err := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if err != nil {
		t.Fatalf("report error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected four rows for hr, got %+v", all)
	}

	team, _ := f.projector.PerformanceReport(ctx, mgr, workflow.ReportFilter{CycleID: testCycle})
	if len(team) != 3 {
		t.Fatalf("expected manager to see self and two reports, got %+v", team)
	}

	own, _ := f.projector.PerformanceReport(ctx, emp, workflow.ReportFilter{CycleID: testCycle})
	if len(own) != 1 || own[0].EmployeeID != emp.ID || own[0].RatingLabel != "Excellent" || own[0].CompletionPercentage != 100 {
		t.Fatalf("unexpected employee report: %+v", own)
	}

	pending, _ := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle, Status: workflow.ReviewStatusPending})
	if len(pending) != 1 || pending[0].EmployeeID != emp2.ID {
		t.Fatalf("unexpected pending rows: %+v", pending)
	}
	sales, _ := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle, Department: "Sales"})
	if len(sales) != 1 || sales[0].EmployeeID != outsider.ID {
		t.Fatalf("unexpected sales rows: %+v", sales)
	}

	if _, err := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{}); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("expected missing cycle to be rejected, got %v", err)
	}
	if _, err := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle, Status: "draft"}); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
	if _, err := f.projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: "nope"}); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected unknown cycle to be not found, got %v", err)
	}
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	generations map[string]int64
	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, generations: map[string]int64{}}
}

func (c *memoryCache) Load(ctx context.Context, cycleID, key string) ([]byte, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.generations[cycleID]
	payload, ok := c.entries[fmt.Sprintf("%s/%d/%s", cycleID, gen, key)]
	return payload, gen, ok, nil
}

func (c *memoryCache) Store(ctx context.Context, cycleID string, gen int64, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%s/%d/%s", cycleID, gen, key)] = payload
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, cycleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, cycleID)
	c.generations[cycleID]++
	return nil
}

func TestPerformanceReportUsesCacheUntilInvalidated(t *testing.T) {
	base := newFixture(t)
	cache := newMemoryCache()
	projector := workflow.NewProjector(base.store, base.dir, cache)
	engine, err := workflow.NewEngine(base.store, base.dir, workflow.WithListener(projector))
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	f := &fixture{store: base.store, dir: base.dir, engine: engine, projector: projector}
	ctx := context.Background()

	f.approved(t, mgr, emp, 4)
	first, err := projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if err != nil || len(first) != 1 {
		t.Fatalf("unexpected report: %+v err=%v", first, err)
	}
	if len(cache.entries) != 1 {
		t.Fatalf("expected report to be cached, got %d entries", len(cache.entries))
	}
	cached, _ := projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if len(cached) != 1 || !cached[0].AverageRating.Equal(first[0].AverageRating) {
		t.Fatalf("unexpected cached report: %+v", cached)
	}

	f.assign(t, mgr, emp2.ID)
	if len(cache.invalidated) == 0 || cache.invalidated[len(cache.invalidated)-1] != testCycle {
		t.Fatalf("expected assignment to invalidate the cycle, got %v", cache.invalidated)
	}
	fresh, _ := projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if len(fresh) != 2 {
		t.Fatalf("expected fresh report after invalidation, got %+v", fresh)
	}
}

// commitDuringRead runs commit once, after the first rollup read has
// returned.
type commitDuringRead struct {
	*memstore.Store
	once   sync.Once
	commit func()
}

func (s *commitDuringRead) ListRollups(ctx context.Context, cycleID string) ([]workflow.Rollup, error) {
	rollups, err := s.Store.ListRollups(ctx, cycleID)
	if s.commit != nil {
		s.once.Do(s.commit)
	}
	return rollups, err
}

func TestPerformanceReportIgnoresRowsBuiltBeforeACommit(t *testing.T) {
	base := newFixture(t)
	ctx := context.Background()
	goal := base.submitted(t, mgr, emp)

	cache := newMemoryCache()
	reads := &commitDuringRead{Store: base.store}
	projector := workflow.NewProjector(reads, base.dir, cache)
	engine, err := workflow.NewEngine(base.store, base.dir, workflow.WithListener(projector))
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	reads.commit = func() {
		if _, err := engine.Approve(ctx, mgr, goal.ID, workflow.ApproveInput{Rating: 4}); err != nil {
			t.Errorf("approve error: %v", err)
		}
	}

	before, err := projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if err != nil || len(before) != 1 || before[0].GoalsCompleted != 0 {
		t.Fatalf("unexpected report read before the approval: %+v err=%v", before, err)
	}
	after, err := projector.PerformanceReport(ctx, hr, workflow.ReportFilter{CycleID: testCycle})
	if err != nil {
		t.Fatalf("report error: %v", err)
	}
	if len(after) != 1 || after[0].GoalsCompleted != 1 {
		t.Fatalf("expected report to reflect the approval, got %+v", after)
	}
}

func TestPerformanceReportPDF(t *testing.T) {
	f := newFixture(t)
	f.approved(t, mgr, emp, 3)
	pdf, err := f.projector.PerformanceReportPDF(context.Background(), hr, workflow.ReportFilter{CycleID: testCycle})
	if err != nil {
		t.Fatalf("pdf error: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatal("expected pdf output")
	}
}
