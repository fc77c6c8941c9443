package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTransitionTimeout = 5 * time.Second

// Recorder receives the outcome of every engine operation.
type Recorder interface {
	RecordTransition(action, outcome string)
}

// Listener is notified after a unit of work commits.
type Listener interface {
	OnEvent(ctx context.Context, evt Event)
}

// Engine applies caller intents to goals. It is safe for concurrent use; at
// most one transition commits per goal and prior state.
type Engine struct {
	store      StoreAPI
	dir        Directory
	resolver   *Resolver
	aggregator *Aggregator
	timeout    time.Duration
	now        func() time.Time
	listeners  []Listener
	recorder   Recorder
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTimeout bounds every store call made by one operation. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

func WithListener(l Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func NewEngine(store StoreAPI, dir Directory, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("workflow: store is required")
	}
	if dir == nil {
		return nil, errors.New("workflow: directory is required")
	}
	e := &Engine{
		store:   store,
		dir:     dir,
		timeout: DefaultTransitionTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(dir)
	e.aggregator = NewAggregator(e.now)
	return e, nil
}

func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Assign creates a goal for the target and moves it out of draft in one unit
// of work. HR assigns to managers, managers to their direct reports.
func (e *Engine) Assign(ctx context.Context, actor Actor, in AssignInput) (goal Goal, err error) {
	defer func() { e.record(ActionAssign, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	draft, err := e.newDraft(ctx, actor, in)
	if err != nil {
		return Goal{}, err
	}
	next, err := e.plan(ctx, actor, draft, ActionAssign, assignOwner)
	if err != nil {
		return Goal{}, err
	}
	err = e.commit(ctx, actor, ActionAssign, draft.State, next, func(ctx context.Context, tx TxAPI) error {
		if err := tx.InsertGoal(ctx, draft); err != nil {
			return err
		}
		if err := tx.CompareAndSwapGoal(ctx, next, draft.State); err != nil {
			return err
		}
		_, err := e.aggregator.Refresh(ctx, tx, next.OwnerID, next.CycleID)
		return err
	})
	if err != nil {
		return Goal{}, err
	}
	return next, nil
}

// CreateDraft stores an unassigned goal owned by its author.
func (e *Engine) CreateDraft(ctx context.Context, actor Actor, in AssignInput) (goal Goal, err error) {
	defer func() { e.record(ActionCreateDraft, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	draft, err := e.newDraft(ctx, actor, in)
	if err != nil {
		return Goal{}, err
	}
	err = e.store.Atomic(ctx, func(ctx context.Context, tx TxAPI) error {
		return tx.InsertGoal(ctx, draft)
	})
	if err != nil {
		return Goal{}, e.storeErr(err)
	}
	return draft, nil
}

// AssignDraft hands an existing draft to its target.
func (e *Engine) AssignDraft(ctx context.Context, actor Actor, goalID string) (goal Goal, err error) {
	defer func() { e.record(ActionAssign, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	current, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Goal{}, err
	}
	next, err := e.plan(ctx, actor, current, ActionAssign, assignOwner)
	if err != nil {
		return Goal{}, err
	}
	if err := e.requireOpenCycle(ctx, current.CycleID); err != nil {
		return Goal{}, err
	}
	err = e.commit(ctx, actor, ActionAssign, current.State, next, func(ctx context.Context, tx TxAPI) error {
		if err := tx.CompareAndSwapGoal(ctx, next, current.State); err != nil {
			return err
		}
		_, err := e.aggregator.Refresh(ctx, tx, next.OwnerID, next.CycleID)
		return err
	})
	if err != nil {
		return Goal{}, err
	}
	return next, nil
}

func (e *Engine) Accept(ctx context.Context, actor Actor, goalID string) (goal Goal, err error) {
	defer func() { e.record(ActionAccept, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	current, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Goal{}, err
	}
	next, err := e.plan(ctx, actor, current, ActionAccept, nil)
	if err != nil {
		return Goal{}, err
	}
	if err := e.commit(ctx, actor, ActionAccept, current.State, next, swap(next, current.State)); err != nil {
		return Goal{}, err
	}
	return next, nil
}

// Submit applies the optional progress, requires the goal to be complete and
// appends any comments to the description.
func (e *Engine) Submit(ctx context.Context, actor Actor, goalID string, in SubmitInput) (goal Goal, err error) {
	defer func() { e.record(ActionSubmit, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	current, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Goal{}, err
	}
	next, err := e.plan(ctx, actor, current, ActionSubmit, func(g *Goal) error {
		if in.Progress != nil {
			if err := validateProgress(*in.Progress); err != nil {
				return err
			}
			g.Progress = *in.Progress
		}
		if g.Progress != 100 {
			return invalidTransition("progress must be 100 to submit")
		}
		if comments := strings.TrimSpace(in.Comments); comments != "" {
			g.Description += submissionSeparator + comments
		}
		return nil
	})
	if err != nil {
		return Goal{}, err
	}
	if err := e.commit(ctx, actor, ActionSubmit, current.State, next, swap(next, current.State)); err != nil {
		return Goal{}, err
	}
	return next, nil
}

// UpdateProgress changes progress without moving the goal. Setting the value
// it already has is a no-op.
func (e *Engine) UpdateProgress(ctx context.Context, actor Actor, goalID string, progress int) (goal Goal, err error) {
	defer func() { e.record(ActionUpdateProgress, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	current, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Goal{}, err
	}
	if !e.resolver.Authorize(ctx, actor, current, ActionUpdateProgress) {
		return Goal{}, unauthorized("only the goal owner can update progress")
	}
	if current.State.Terminal() {
		return Goal{}, invalidTransition("goal is already approved")
	}
	if err := validateProgress(progress); err != nil {
		return Goal{}, err
	}
	if current.Progress == progress {
		return current, nil
	}
	next := current
	next.Progress = progress
	next.Version = current.Version + 1
	next.UpdatedAt = e.now().UTC()
	if err := e.commit(ctx, actor, ActionUpdateProgress, current.State, next, swap(next, current.State)); err != nil {
		return Goal{}, err
	}
	return next, nil
}

// Approve moves a submitted goal to its terminal state and writes the
// review. On a goal that is already approved it amends the review instead,
// as long as the cycle is still open.
func (e *Engine) Approve(ctx context.Context, actor Actor, goalID string, in ApproveInput) (approval Approval, err error) {
	defer func() { e.record(ActionApprove, err) }()
	ctx, cancel := e.bound(ctx)
	defer cancel()

	current, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Approval{}, err
	}
	if !e.resolver.Authorize(ctx, actor, current, ActionApprove) {
		return Approval{}, unauthorized("not allowed to approve this goal")
	}
	if in.Rating < MinRating || in.Rating > MaxRating {
		return Approval{}, invalidInput(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	comments := strings.TrimSpace(in.Comments)

	if current.State == current.Chain.Terminal() {
		if err := e.requireOpenCycle(ctx, current.CycleID); err != nil {
			return Approval{}, err
		}
		var review Review
		err := e.commit(ctx, actor, ActionApprove, current.State, current, func(ctx context.Context, tx TxAPI) error {
			var err error
			review, err = e.aggregator.OnApproved(ctx, tx, current, in.Rating, comments, actor.ID)
			return err
		})
		if err != nil {
			return Approval{}, err
		}
		return Approval{Goal: current, Review: review, Amended: true}, nil
	}

	next, err := e.plan(ctx, actor, current, ActionApprove, nil)
	if err != nil {
		return Approval{}, err
	}
	var review Review
	err = e.commit(ctx, actor, ActionApprove, current.State, next, func(ctx context.Context, tx TxAPI) error {
		if err := tx.CompareAndSwapGoal(ctx, next, current.State); err != nil {
			return err
		}
		var err error
		review, err = e.aggregator.OnApproved(ctx, tx, next, in.Rating, comments, actor.ID)
		return err
	})
	if err != nil {
		return Approval{}, err
	}
	return Approval{Goal: next, Review: review}, nil
}

// Get returns a goal the actor is allowed to see.
func (e *Engine) Get(ctx context.Context, actor Actor, goalID string) (Goal, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	goal, err := e.load(ctx, actor, goalID)
	if err != nil {
		return Goal{}, err
	}
	if !e.resolver.Authorize(ctx, actor, goal, ActionView) {
		return Goal{}, unauthorized("not allowed to view this goal")
	}
	return goal, nil
}

// RebuildRollups recomputes every rollup of every open cycle and returns how
// many were written.
func (e *Engine) RebuildRollups(ctx context.Context) (int, error) {
	cycles, err := e.store.ListCycles(ctx)
	if err != nil {
		return 0, e.storeErr(err)
	}
	count := 0
	for _, cycle := range cycles {
		if cycle.Status != CycleStatusOpen {
			continue
		}
		goals, err := e.store.ListGoals(ctx, GoalFilter{CycleID: cycle.ID})
		if err != nil {
			return count, e.storeErr(err)
		}
		owners := map[string]struct{}{}
		for _, g := range goals {
			if g.State != StateDraft {
				owners[g.OwnerID] = struct{}{}
			}
		}
		for owner := range owners {
			err := e.runBounded(ctx, func(ctx context.Context) error {
				return e.store.Atomic(ctx, func(ctx context.Context, tx TxAPI) error {
					_, err := e.aggregator.Refresh(ctx, tx, owner, cycle.ID)
					return err
				})
			})
			if err != nil {
				return count, e.storeErr(err)
			}
			count++
		}
		e.publish(ctx, Event{Action: ActionRollupRebuild, CycleID: cycle.ID, At: e.now().UTC()})
	}
	return count, nil
}

func (e *Engine) newDraft(ctx context.Context, actor Actor, in AssignInput) (Goal, error) {
	if err := checkActor(actor); err != nil {
		return Goal{}, err
	}
	chain, ok := ChainFor(actor.Role)
	if !ok {
		return Goal{}, unauthorized("only hr and managers can assign goals")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Goal{}, invalidInput("title is required")
	}
	if strings.TrimSpace(in.CycleID) == "" || strings.TrimSpace(in.TargetID) == "" {
		return Goal{}, invalidInput("cycle_id and target_id are required")
	}
	timeline, err := ParseTimeline(in.Timeline)
	if err != nil {
		return Goal{}, err
	}
	if err := e.requireOpenCycle(ctx, in.CycleID); err != nil {
		return Goal{}, err
	}
	if _, err := e.dir.Person(ctx, in.TargetID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Goal{}, NotFoundError("person", err)
		}
		return Goal{}, fmt.Errorf("lookup target: %w", err)
	}

	now := e.now().UTC()
	draft := Goal{
		ID:             uuid.NewString(),
		CycleID:        in.CycleID,
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		Timeline:       timeline,
		Chain:          chain,
		AssignedByRole: actor.Role,
		AssignedByID:   actor.ID,
		AssigneeID:     in.TargetID,
		OwnerID:        actor.ID,
		State:          StateDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !e.resolver.Authorize(ctx, actor, draft, ActionAssign) {
		return Goal{}, unauthorized("target is not assignable by this actor")
	}
	return draft, nil
}

// plan checks authorization and the transition table and returns the goal as
// it will look after the transition, version included.
func (e *Engine) plan(ctx context.Context, actor Actor, current Goal, action Action, mutate func(*Goal) error) (Goal, error) {
	if !e.resolver.Authorize(ctx, actor, current, action) {
		return Goal{}, unauthorized(fmt.Sprintf("not allowed to %s this goal", action))
	}
	t, ok := lookupTransition(current.Chain, action, actor.Role)
	if !ok {
		return Goal{}, invalidTransition(fmt.Sprintf("%s cannot %s on a %s goal", actor.Role, action, current.Chain))
	}
	if err := checkSource(current.Chain, t, current.State); err != nil {
		return Goal{}, err
	}
	next := current
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return Goal{}, err
		}
	}
	next.State = t.to
	next.Version = current.Version + 1
	stamp(&next, action, e.now().UTC())
	return next, nil
}

func (e *Engine) commit(ctx context.Context, actor Actor, action Action, from State, next Goal, unit func(ctx context.Context, tx TxAPI) error) error {
	if err := e.store.Atomic(ctx, unit); err != nil {
		return e.storeErr(err)
	}
	e.publish(ctx, Event{
		Action:    action,
		GoalID:    next.ID,
		CycleID:   next.CycleID,
		From:      from,
		To:        next.State,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		At:        next.UpdatedAt,
	})
	return nil
}

func (e *Engine) load(ctx context.Context, actor Actor, goalID string) (Goal, error) {
	if err := checkActor(actor); err != nil {
		return Goal{}, err
	}
	if strings.TrimSpace(goalID) == "" {
		return Goal{}, invalidInput("goal id is required")
	}
	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return Goal{}, e.storeErr(err)
	}
	if !goal.Chain.Contains(goal.State) {
		return Goal{}, invalidTransition(fmt.Sprintf("state %s is not part of the %s chain", goal.State, goal.Chain))
	}
	return goal, nil
}

func (e *Engine) requireOpenCycle(ctx context.Context, cycleID string) error {
	cycle, err := e.store.GetCycle(ctx, cycleID)
	if err != nil {
		return e.storeErr(err)
	}
	if cycle.Status != CycleStatusOpen {
		return invalidTransition("review cycle is closed")
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, evt Event) {
	ctx = context.WithoutCancel(ctx)
	for _, l := range e.listeners {
		l.OnEvent(ctx, evt)
	}
}

func (e *Engine) record(action Action, err error) {
	if e.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	e.recorder.RecordTransition(string(action), outcome)
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) runBounded(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return fn(ctx)
}

// storeErr keeps workflow errors as they are and turns an expired deadline
// into a retryable conflict.
func (e *Engine) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ConflictError("transition timed out", err)
	}
	if KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("goal store: %w", err)
}

func swap(next Goal, expected State) func(ctx context.Context, tx TxAPI) error {
	return func(ctx context.Context, tx TxAPI) error {
		return tx.CompareAndSwapGoal(ctx, next, expected)
	}
}

func assignOwner(g *Goal) error {
	g.OwnerID = g.AssigneeID
	return nil
}

func checkActor(actor Actor) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return unauthorized("missing identity")
	}
	return nil
}

func validateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return invalidInput("progress must be between 0 and 100")
	}
	return nil
}
