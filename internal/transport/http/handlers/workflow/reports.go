package workflowhandler

import (
	"fmt"
	"log/slog"
	"net/http"

	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

func reportFilter(r *http.Request) workflow.ReportFilter {
	q := r.URL.Query()
	return workflow.ReportFilter{
		CycleID:    q.Get("cycle_id"),
		Status:     q.Get("status"),
		Department: q.Get("department"),
	}
}

func (h *Handler) handlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Projector.PerformanceReport(r.Context(), actorOf(r), reportFilter(r))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, rows, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePerformanceReportPDF(w http.ResponseWriter, r *http.Request) {
	filter := reportFilter(r)
	pdf, err := h.Projector.PerformanceReportPDF(r.Context(), actorOf(r), filter)
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "performance-"+filter.CycleID+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		slog.Warn("report pdf write failed", "requestId", middleware.GetRequestID(r.Context()), "err", err)
	}
}


func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.Projector.Dashboard(r.Context(), actorOf(r), r.URL.Query().Get("cycle_id"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, dashboard, middleware.GetRequestID(r.Context()))
}
