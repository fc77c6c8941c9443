package workflow

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PerformanceReportPDF renders the same rows as PerformanceReport.
func (p *Projector) PerformanceReportPDF(ctx context.Context, actor Actor, filter ReportFilter) ([]byte, error) {
	rows, err := p.PerformanceReport(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	cycle, err := p.store.GetCycle(ctx, filter.CycleID)
	if err != nil {
		return nil, err
	}
	return renderReportPDF(cycle, rows)
}

var reportColumns = []struct {
	title string
	width float64
}{
	{"Employee", 50},
	{"Department", 35},
	{"Avg", 15},
	{"Goals", 20},
	{"Done %", 18},
	{"Rating", 32},
	{"Status", 20},
}

func renderReportPDF(cycle Cycle, rows []ReportRow) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Performance Report")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Cycle: %s", cycle.Label))
	pdf.Ln(7)
	if !cycle.PeriodStart.IsZero() {
		pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s", cycle.PeriodStart.Format("2006-01-02"), cycle.PeriodEnd.Format("2006-01-02")))
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	for _, col := range reportColumns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)
	for _, row := range rows {
		name := row.EmployeeName
		if name == "" {
			name = row.EmployeeID
		}
		cells := []string{
			name,
			row.Department,
			row.AverageRating.StringFixed(2),
			fmt.Sprintf("%d/%d", row.GoalsCompleted, row.GoalsTotal),
			fmt.Sprintf("%d%%", row.CompletionPercentage),
			row.RatingLabel,
			row.Status,
		}
		for i, col := range reportColumns {
			pdf.CellFormat(col.width, 7, cells[i], "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}
