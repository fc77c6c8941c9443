package workflow

import (
	"time"

	"pms/internal/domain/auth"
)

// Action is a caller intent applied to a goal.
type Action string

const (
	ActionAssign         Action = "assign"
	ActionAccept         Action = "accept"
	ActionSubmit         Action = "submit"
	ActionApprove        Action = "approve"
	ActionUpdateProgress Action = "update_progress"
	ActionView           Action = "view"
	// ActionRollupRebuild is not a goal transition; it is emitted when rollups
	// for a cycle are rebuilt in the background.
	ActionRollupRebuild Action = "rollup_rebuild"
)

type transition struct {
	action Action
	actor  auth.Role
	from   State
	to     State
}

var transitions = []transition{
	{action: ActionAssign, actor: auth.RoleHR, from: StateDraft, to: StateHRAssigned},
	{action: ActionAssign, actor: auth.RoleManager, from: StateDraft, to: StateManagerAssigned},
	{action: ActionAccept, actor: auth.RoleManager, from: StateHRAssigned, to: StateManagerAccepted},
	{action: ActionAccept, actor: auth.RoleEmployee, from: StateManagerAssigned, to: StateEmployeeAccepted},
	{action: ActionSubmit, actor: auth.RoleManager, from: StateManagerAccepted, to: StateManagerSubmitted},
	{action: ActionSubmit, actor: auth.RoleEmployee, from: StateEmployeeAccepted, to: StateEmployeeSubmitted},
	{action: ActionApprove, actor: auth.RoleHR, from: StateManagerSubmitted, to: StateManagerApproved},
	{action: ActionApprove, actor: auth.RoleManager, from: StateEmployeeSubmitted, to: StateHRApproved},
}

// lookupTransition returns the edge an actor of role may take for action on
// chain. Both endpoints of a returned edge are on the chain's path.
func lookupTransition(chain Chain, action Action, role auth.Role) (transition, bool) {
	for _, t := range transitions {
		if t.action == action && t.actor == role && chain.Contains(t.from) && chain.Contains(t.to) {
			return t, true
		}
	}
	return transition{}, false
}

// checkSource classifies a goal whose state is not the edge's source. A goal
// that already moved past the source lost a race to another caller.
func checkSource(chain Chain, t transition, current State) error {
	if current == t.from {
		return nil
	}
	if chain.rank(current) > chain.rank(t.from) {
		return stateConflict("goal has already moved to " + string(current))
	}
	return invalidTransition("cannot " + string(t.action) + " a goal in state " + string(current))
}

// ActionCreateDraft records draft creation; it is not an edge of the graph.
const ActionCreateDraft Action = "create_draft"

func stamp(goal *Goal, action Action, at time.Time) {
	goal.UpdatedAt = at
	switch action {
	case ActionAccept:
		goal.AcceptedAt = &at
	case ActionSubmit:
		goal.SubmittedAt = &at
	case ActionApprove:
		goal.ApprovedAt = &at
	}
}
