package workflow

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const unknownDepartment = "N/A"

// CompletionPercentage is completed/total*100 rounded to the nearest integer.
func CompletionPercentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// AverageRatingLabel labels an average by rounding it half-up to a whole rating.
func AverageRatingLabel(avg decimal.Decimal) string {
	return RatingLabel(int(avg.Round(0).IntPart()))
}

func buildPerformanceReport(rollups []Rollup, people map[string]Person, filter ReportFilter) []ReportRow {
	rows := make([]ReportRow, 0, len(rollups))
	for _, r := range rollups {
		if r.GoalsTotal == 0 {
			continue
		}
		person := people[r.EmployeeID]
		department := person.Department
		if department == "" {
			department = unknownDepartment
		}
		status := ReviewStatusPending
		if r.GoalsCompleted == r.GoalsTotal {
			status = ReviewStatusFinal
		}
		if filter.Status != "" && filter.Status != status {
			continue
		}
		if filter.Department != "" && !strings.EqualFold(filter.Department, department) {
			continue
		}
		row := ReportRow{
			EmployeeID:           r.EmployeeID,
			EmployeeName:         person.Name,
			Department:           department,
			CycleID:              r.CycleID,
			AverageRating:        r.CompositeScore,
			GoalsCompleted:       r.GoalsCompleted,
			GoalsTotal:           r.GoalsTotal,
			CompletionPercentage: CompletionPercentage(r.GoalsCompleted, r.GoalsTotal),
			Status:               status,
		}
		if r.GoalsCompleted > 0 {
			row.RatingLabel = AverageRatingLabel(r.CompositeScore)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Department != rows[j].Department {
			return rows[i].Department < rows[j].Department
		}
		if rows[i].EmployeeName != rows[j].EmployeeName {
			return rows[i].EmployeeName < rows[j].EmployeeName
		}
		return rows[i].EmployeeID < rows[j].EmployeeID
	})
	return rows
}

// buildDashboard folds scoped rollups into a dashboard. The average is taken
// over employees with at least one approved goal.
func buildDashboard(actor Actor, cycleID string, rollups []Rollup, pending int) Dashboard {
	d := Dashboard{CycleID: cycleID, PendingApprovals: pending, AverageScore: decimal.Zero}
	sum := decimal.Zero
	scored := 0
	for _, r := range rollups {
		if r.EmployeeID != actor.ID {
			d.TeamSize++
		}
		d.TotalGoals += r.GoalsTotal
		d.CompletedGoals += r.GoalsCompleted
		if r.GoalsCompleted == 0 {
			continue
		}
		sum = sum.Add(r.CompositeScore)
		scored++
		switch AverageRatingLabel(r.CompositeScore) {
		case RatingLabel(5):
			d.ExcellentCount++
		case RatingLabel(2), RatingLabel(1):
			d.NeedsImprovementCount++
		}
	}
	if scored > 0 {
		d.AverageScore = sum.DivRound(decimal.NewFromInt(int64(scored)), 2)
	}
	return d
}
