package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"pms/internal/domain/auth"
)

// ReportCache stores rendered reports per cycle under a generation.
// Invalidate moves the cycle to a new generation; Load returns the current
// one, and Store writes under the generation the caller read, so a report
// built before an invalidation is never served after it.
type ReportCache interface {
	Load(ctx context.Context, cycleID, key string) (payload []byte, gen int64, ok bool, err error)
	Store(ctx context.Context, cycleID string, gen int64, key string, payload []byte) error
	Invalidate(ctx context.Context, cycleID string) error
}

// Projector serves read-side views. It never writes goals.
type Projector struct {
	store    StoreAPI
	dir      Directory
	resolver *Resolver
	cache    ReportCache
	group    singleflight.Group
}

// NewProjector builds a projector; cache may be nil.
func NewProjector(store StoreAPI, dir Directory, cache ReportCache) *Projector {
	return &Projector{
		store:    store,
		dir:      dir,
		resolver: NewResolver(dir),
		cache:    cache,
	}
}

// OnEvent drops cached reports of the cycle touched by a committed change.
func (p *Projector) OnEvent(ctx context.Context, evt Event) {
	if p.cache == nil || evt.CycleID == "" {
		return
	}
	if err := p.cache.Invalidate(ctx, evt.CycleID); err != nil {
		slog.Warn("report cache invalidate failed", "cycleId", evt.CycleID, "err", err)
	}
}

// MyAssignedGoals lists the actor's open goals, optionally for one cycle.
func (p *Projector) MyAssignedGoals(ctx context.Context, actor Actor, cycleID string) ([]Goal, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	goals, err := p.store.ListGoals(ctx, GoalFilter{OwnerID: actor.ID, CycleID: cycleID, NonTerminal: true})
	if err != nil {
		return nil, err
	}
	out := make([]Goal, 0, len(goals))
	for _, g := range goals {
		if g.State != StateDraft {
			out = append(out, g)
		}
	}
	return out, nil
}

// PendingApprovals lists submitted goals the actor can approve.
func (p *Projector) PendingApprovals(ctx context.Context, actor Actor) ([]Goal, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	var state State
	switch actor.Role {
	case auth.RoleHR:
		state = StateManagerSubmitted
	case auth.RoleManager:
		state = StateEmployeeSubmitted
	default:
		return nil, unauthorized("only hr and managers approve goals")
	}
	goals, err := p.store.ListGoals(ctx, GoalFilter{States: []State{state}})
	if err != nil {
		return nil, err
	}
	out := make([]Goal, 0, len(goals))
	for _, g := range goals {
		if p.resolver.Authorize(ctx, actor, g, ActionApprove) {
			out = append(out, g)
		}
	}
	return out, nil
}

// TeamGoals lists one employee's goals, newest first, for hr or the
// employee's manager. A manager may also list their own goals.
func (p *Projector) TeamGoals(ctx context.Context, actor Actor, employeeID, cycleID string) ([]Goal, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(employeeID) == "" {
		return nil, invalidInput("employee_id is required")
	}
	if actor.Role == auth.RoleEmployee {
		return nil, unauthorized("only hr and managers list team goals")
	}
	if !p.resolver.InScope(ctx, actor, employeeID) {
		return nil, unauthorized("employee is not in your team")
	}
	goals, err := p.store.ListGoals(ctx, GoalFilter{OwnerID: employeeID, CycleID: cycleID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].CreatedAt.After(goals[j].CreatedAt) })
	return goals, nil
}

// Dashboard summarizes a cycle over the actor's report scope.
func (p *Projector) Dashboard(ctx context.Context, actor Actor, cycleID string) (Dashboard, error) {
	if err := checkActor(actor); err != nil {
		return Dashboard{}, err
	}
	if strings.TrimSpace(cycleID) == "" {
		return Dashboard{}, invalidInput("cycle_id is required")
	}
	if _, err := p.store.GetCycle(ctx, cycleID); err != nil {
		return Dashboard{}, err
	}
	rollups, err := p.store.ListRollups(ctx, cycleID)
	if err != nil {
		return Dashboard{}, err
	}
	scoped := make([]Rollup, 0, len(rollups))
	for _, r := range rollups {
		if p.resolver.InScope(ctx, actor, r.EmployeeID) {
			scoped = append(scoped, r)
		}
	}

	pending := 0
	if actor.Role != auth.RoleEmployee {
		queue, err := p.PendingApprovals(ctx, actor)
		if err != nil {
			return Dashboard{}, err
		}
		for _, g := range queue {
			if g.CycleID == cycleID {
				pending++
			}
		}
	}
	return buildDashboard(actor, cycleID, scoped, pending), nil
}

// ReviewsFor returns the reviews visible to the actor: their own for
// employees, their own and their team's for managers, all for hr.
func (p *Projector) ReviewsFor(ctx context.Context, actor Actor, cycleID string) ([]Review, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	filter := ReviewFilter{CycleID: cycleID}
	if actor.Role == auth.RoleEmployee {
		filter.EmployeeID = actor.ID
	}
	reviews, err := p.store.ListReviews(ctx, filter)
	if err != nil {
		return nil, err
	}
	if actor.Role != auth.RoleManager {
		return reviews, nil
	}
	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		if r.ReviewerID == actor.ID || p.resolver.InScope(ctx, actor, r.EmployeeID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// PerformanceReport returns one row per employee in the actor's scope.
func (p *Projector) PerformanceReport(ctx context.Context, actor Actor, filter ReportFilter) ([]ReportRow, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filter.CycleID) == "" {
		return nil, invalidInput("cycle_id is required")
	}
	switch filter.Status {
	case "", ReviewStatusPending, ReviewStatusFinal:
	default:
		return nil, invalidInput(fmt.Sprintf("unknown status %q", filter.Status))
	}
	if _, err := p.store.GetCycle(ctx, filter.CycleID); err != nil {
		return nil, err
	}

	key := reportKey(actor, filter)
	rows, gen, ok := p.cached(ctx, filter.CycleID, key)
	if ok {
		return rows, nil
	}
	v, err, _ := p.group.Do(fmt.Sprintf("%s|%d|%s", filter.CycleID, gen, key), func() (any, error) {
		rows, err := p.buildReport(ctx, actor, filter)
		if err != nil {
			return nil, err
		}
		if gen >= 0 {
			p.remember(ctx, filter.CycleID, gen, key, rows)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ReportRow), nil
}

func (p *Projector) buildReport(ctx context.Context, actor Actor, filter ReportFilter) ([]ReportRow, error) {
	rollups, err := p.store.ListRollups(ctx, filter.CycleID)
	if err != nil {
		return nil, err
	}
	people := map[string]Person{}
	scoped := make([]Rollup, 0, len(rollups))
	for _, r := range rollups {
		if !p.resolver.InScope(ctx, actor, r.EmployeeID) {
			continue
		}
		scoped = append(scoped, r)
		person, err := p.dir.Person(ctx, r.EmployeeID)
		switch {
		case err == nil:
			people[r.EmployeeID] = person
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("lookup %s: %w", r.EmployeeID, err)
		}
	}
	return buildPerformanceReport(scoped, people, filter), nil
}

// cached looks the report up and returns the generation to store a rebuilt
// report under; -1 means the cache is unavailable.
func (p *Projector) cached(ctx context.Context, cycleID, key string) ([]ReportRow, int64, bool) {
	if p.cache == nil {
		return nil, -1, false
	}
	payload, gen, ok, err := p.cache.Load(ctx, cycleID, key)
	if err != nil {
		slog.Warn("report cache load failed", "cycleId", cycleID, "err", err)
		return nil, -1, false
	}
	if !ok {
		return nil, gen, false
	}
	var rows []ReportRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		slog.Warn("report cache decode failed", "cycleId", cycleID, "err", err)
		return nil, gen, false
	}
	return rows, gen, true
}

func (p *Projector) remember(ctx context.Context, cycleID string, gen int64, key string, rows []ReportRow) {
	payload, err := json.Marshal(rows)
	if err != nil {
		slog.Warn("report cache encode failed", "err", err)
		return
	}
	if err := p.cache.Store(ctx, cycleID, gen, key, payload); err != nil {
		slog.Warn("report cache store failed", "cycleId", cycleID, "err", err)
	}
}

func reportKey(actor Actor, filter ReportFilter) string {
	scope := "all"
	switch actor.Role {
	case auth.RoleManager:
		scope = "team:" + actor.ID
	case auth.RoleEmployee:
		scope = "self:" + actor.ID
	}
	return scope + "|" + filter.Status + "|" + strings.ToLower(filter.Department)
}
