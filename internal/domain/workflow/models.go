package workflow

import (
	"time"

	"github.com/shopspring/decimal"

	"pms/internal/domain/auth"
)

// Actor is the authenticated caller of every engine and projector operation.
type Actor struct {
	ID   string
	Role auth.Role
}

type Goal struct {
	ID             string     `json:"id"`
	CycleID        string     `json:"cycleId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Timeline       Timeline   `json:"timeline"`
	Chain          Chain      `json:"chain"`
	AssignedByRole auth.Role  `json:"assignedByRole"`
	AssignedByID   string     `json:"assignedById"`
	AssigneeID     string     `json:"assigneeId"`
	OwnerID        string     `json:"ownerId"`
	Progress       int        `json:"progress"`
	State          State      `json:"state"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
}

type Review struct {
	ID             string          `json:"id"`
	GoalID         string          `json:"goalId"`
	CycleID        string          `json:"cycleId"`
	EmployeeID     string          `json:"employeeId"`
	ReviewerID     string          `json:"reviewerId"`
	Rating         int             `json:"rating"`
	RatingLabel    string          `json:"ratingLabel"`
	Comments       string          `json:"comments"`
	CompositeScore decimal.Decimal `json:"compositeScore"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Rollup is the per-employee, per-cycle aggregate kept alongside goals.
type Rollup struct {
	EmployeeID     string          `json:"employeeId"`
	CycleID        string          `json:"cycleId"`
	GoalsTotal     int             `json:"goalsTotal"`
	GoalsCompleted int             `json:"goalsCompleted"`
	CompositeScore decimal.Decimal `json:"compositeScore"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Cycle struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AssignInput struct {
	CycleID     string
	TargetID    string
	Title       string
	Description string
	Timeline    string
}

type SubmitInput struct {
	Progress *int
	Comments string
}

type ApproveInput struct {
	Rating   int
	Comments string
}

type Approval struct {
	Goal    Goal   `json:"goal"`
	Review  Review `json:"review"`
	Amended bool   `json:"amended"`
}

type CycleInput struct {
	ID          string
	Label       string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Event is published after a unit of work commits.
type Event struct {
	Action    Action
	GoalID    string
	CycleID   string
	From      State
	To        State
	ActorID   string
	ActorRole auth.Role
	At        time.Time
}

type GoalFilter struct {
	OwnerID     string
	CycleID     string
	States      []State
	NonTerminal bool
}

type ReviewFilter struct {
	CycleID    string
	EmployeeID string
	ReviewerID string
}

type ReportFilter struct {
	CycleID    string
	Status     string
	Department string
}

type ReportRow struct {
	EmployeeID           string          `json:"employeeId"`
	EmployeeName         string          `json:"employeeName"`
	Department           string          `json:"department"`
	CycleID              string          `json:"cycleId"`
	AverageRating        decimal.Decimal `json:"averageRating"`
	GoalsCompleted       int             `json:"goalsCompleted"`
	GoalsTotal           int             `json:"goalsTotal"`
	CompletionPercentage int             `json:"completionPercentage"`
	RatingLabel          string          `json:"ratingLabel"`
	Status               string          `json:"status"`
}

// Dashboard summarizes one cycle for the caller's scope: the whole company
// for hr, the manager and their reports, or an employee's own goals.
type Dashboard struct {
	CycleID               string          `json:"cycleId"`
	TeamSize              int             `json:"teamSize"`
	PendingApprovals      int             `json:"pendingApprovals"`
	TotalGoals            int             `json:"totalGoals"`
	CompletedGoals        int             `json:"completedGoals"`
	AverageScore          decimal.Decimal `json:"averageScore"`
	ExcellentCount        int             `json:"excellentCount"`
	NeedsImprovementCount int             `json:"needsImprovementCount"`
}
