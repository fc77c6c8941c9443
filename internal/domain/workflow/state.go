package workflow

import (
	"fmt"

	"pms/internal/domain/auth"
)

// State is the position of a goal in its approval chain.
type State string

const (
	StateDraft             State = "draft"
	StateHRAssigned        State = "hr_assigned"
	StateManagerAssigned   State = "manager_assigned"
	StateManagerAccepted   State = "manager_accepted"
	StateEmployeeAccepted  State = "employee_accepted"
	StateManagerSubmitted  State = "manager_submitted"
	StateEmployeeSubmitted State = "employee_submitted"
	StateManagerApproved   State = "manager_approved"
	StateHRApproved        State = "hr_approved"
)

var allStates = []State{
	StateDraft,
	StateHRAssigned,
	StateManagerAssigned,
	StateManagerAccepted,
	StateEmployeeAccepted,
	StateManagerSubmitted,
	StateEmployeeSubmitted,
	StateManagerApproved,
	StateHRApproved,
}

func ParseState(value string) (State, error) {
	for _, s := range allStates {
		if string(s) == value {
			return s, nil
		}
	}
	return "", invalidInput(fmt.Sprintf("unknown state %q", value))
}

func (s State) Terminal() bool {
	return s == StateManagerApproved || s == StateHRApproved
}

// Chain identifies which pair of roles a goal moves between. Each chain owns
// its own path through the state set.
type Chain string

const (
	// ChainHRManager: HR assigns to a manager and approves the result.
	ChainHRManager Chain = "hr_manager"
	// ChainManagerEmployee: a manager assigns to a direct report and approves the result.
	ChainManagerEmployee Chain = "manager_employee"
)

var chainPaths = map[Chain][]State{
	ChainHRManager:       {StateDraft, StateHRAssigned, StateManagerAccepted, StateManagerSubmitted, StateManagerApproved},
	ChainManagerEmployee: {StateDraft, StateManagerAssigned, StateEmployeeAccepted, StateEmployeeSubmitted, StateHRApproved},
}

func ParseChain(value string) (Chain, error) {
	c := Chain(value)
	if _, ok := chainPaths[c]; !ok {
		return "", invalidInput(fmt.Sprintf("unknown chain %q", value))
	}
	return c, nil
}

// ChainFor returns the chain started by a goal assigned by role.
func ChainFor(role auth.Role) (Chain, bool) {
	switch role {
	case auth.RoleHR:
		return ChainHRManager, true
	case auth.RoleManager:
		return ChainManagerEmployee, true
	default:
		return "", false
	}
}

func (c Chain) Path() []State {
	return chainPaths[c]
}

func (c Chain) Contains(s State) bool {
	return c.rank(s) >= 0
}

func (c Chain) rank(s State) int {
	for i, candidate := range chainPaths[c] {
		if candidate == s {
			return i
		}
	}
	return -1
}

func (c Chain) Terminal() State {
	path := chainPaths[c]
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// Assigner is the role allowed to assign goals on the chain and approve them.
func (c Chain) Assigner() auth.Role {
	if c == ChainHRManager {
		return auth.RoleHR
	}
	return auth.RoleManager
}

// Assignee is the role that accepts, executes and submits goals on the chain.
func (c Chain) Assignee() auth.Role {
	if c == ChainHRManager {
		return auth.RoleManager
	}
	return auth.RoleEmployee
}
