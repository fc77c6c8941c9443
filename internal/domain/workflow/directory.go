package workflow

import (
	"context"
	"errors"
	"log/slog"

	"pms/internal/domain/auth"
)

// Person is a directory entry: who someone is and whom they report to.
type Person struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Role       auth.Role `json:"role" yaml:"role"`
	ManagerID  string    `json:"managerId,omitempty" yaml:"manager_id"`
	Department string    `json:"department,omitempty" yaml:"department"`
}

// Directory answers reporting-relationship questions. Implementations return
// an error matching ErrNotFound for unknown ids.
type Directory interface {
	Person(ctx context.Context, id string) (Person, error)
}

// Resolver decides whether an actor may apply an action to a goal.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Authorize has no side effects. Directory failures deny the action.
func (r *Resolver) Authorize(ctx context.Context, actor Actor, goal Goal, action Action) bool {
	if actor.ID == "" || !actor.Role.Valid() {
		return false
	}
	switch action {
	case ActionAssign:
		return r.canAssign(ctx, actor, goal)
	case ActionAccept, ActionSubmit:
		return goal.State != StateDraft && goal.OwnerID == actor.ID && actor.Role == goal.Chain.Assignee()
	case ActionUpdateProgress:
		return goal.OwnerID == actor.ID
	case ActionApprove:
		if actor.Role != goal.Chain.Assigner() {
			return false
		}
		if goal.Chain == ChainHRManager {
			return true
		}
		return r.manages(ctx, actor.ID, goal.OwnerID)
	case ActionView:
		if goal.OwnerID == actor.ID || goal.AssignedByID == actor.ID || actor.Role == auth.RoleHR {
			return true
		}
		return actor.Role == auth.RoleManager && r.manages(ctx, actor.ID, goal.OwnerID)
	}
	return false
}

func (r *Resolver) canAssign(ctx context.Context, actor Actor, goal Goal) bool {
	if actor.Role != goal.Chain.Assigner() {
		return false
	}
	if goal.AssignedByID != "" && goal.AssignedByID != actor.ID {
		return false
	}
	target, ok := r.lookup(ctx, goal.AssigneeID)
	if !ok || target.Role != goal.Chain.Assignee() {
		return false
	}
	if goal.Chain == ChainManagerEmployee {
		return target.ManagerID == actor.ID
	}
	return true
}

// manages reports whether employeeID is a direct report of managerID.
func (r *Resolver) manages(ctx context.Context, managerID, employeeID string) bool {
	if managerID == "" || employeeID == "" {
		return false
	}
	person, ok := r.lookup(ctx, employeeID)
	return ok && person.ManagerID == managerID
}

// InScope reports whether actor may see aggregate data about employeeID.
func (r *Resolver) InScope(ctx context.Context, actor Actor, employeeID string) bool {
	switch actor.Role {
	case auth.RoleHR:
		return true
	case auth.RoleManager:
		return employeeID == actor.ID || r.manages(ctx, actor.ID, employeeID)
	default:
		return employeeID == actor.ID
	}
}

func (r *Resolver) lookup(ctx context.Context, id string) (Person, bool) {
	person, err := r.dir.Person(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("directory lookup failed", "personId", id, "err", err)
		}
		return Person{}, false
	}
	return person, true
}
