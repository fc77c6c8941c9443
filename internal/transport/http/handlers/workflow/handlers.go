package workflowhandler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	Engine      *workflow.Engine
	Projector   *workflow.Projector
	Idempotency middleware.IdempotencyStore
}

func NewHandler(engine *workflow.Engine, projector *workflow.Projector, idem middleware.IdempotencyStore) *Handler {
	return &Handler{Engine: engine, Projector: projector, Idempotency: idem}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	assigners := middleware.RequireRole(auth.RoleHR, auth.RoleManager)
	hrOnly := middleware.RequireRole(auth.RoleHR)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Route("/goals", func(r chi.Router) {
			r.With(assigners, middleware.Idempotent(h.Idempotency, "goals.assign")).Post("/assign", h.handleAssign)
			r.With(assigners).Post("/drafts", h.handleCreateDraft)
			r.Get("/{goalID}", h.handleGetGoal)
			r.Put("/{goalID}", h.handleUpdateProgress)
			r.With(assigners, middleware.Idempotent(h.Idempotency, "goals.assign_draft")).Post("/{goalID}/assign", h.handleAssignDraft)
			r.Post("/{goalID}/accept", h.handleAccept)
			r.With(middleware.Idempotent(h.Idempotency, "goals.submit")).Post("/{goalID}/submit", h.handleSubmit)
		})

		r.Get("/reviews", h.handleListReviews)
		r.With(assigners, middleware.Idempotent(h.Idempotency, "reviews.approve")).Post("/reviews/{goalID}/approve", h.handleApprove)

		r.Get("/my-assigned-goals", h.handleMyAssignedGoals)
		r.With(assigners).Get("/pending-approvals", h.handlePendingApprovals)
		r.With(assigners).Get("/team-goals", h.handleTeamGoals)
		r.Get("/dashboard", h.handleDashboard)

		r.Get("/reports/performance", h.handlePerformanceReport)
		r.Get("/reports/performance.pdf", h.handlePerformanceReportPDF)

		r.Get("/cycles", h.handleListCycles)
		r.With(hrOnly).Post("/cycles", h.handleCreateCycle)
		r.With(hrOnly).Post("/cycles/{cycleID}/close", h.handleCloseCycle)
	})
}

// decode reads an optional JSON body; an empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.Fail(w, http.StatusRequestEntityTooLarge, "InvalidInput", "request body too large", middleware.GetRequestID(r.Context()))
		return false
	}
	api.Fail(w, http.StatusBadRequest, "InvalidInput", "invalid request payload", middleware.GetRequestID(r.Context()))
	return false
}

func actorOf(r *http.Request) workflow.Actor {
	actor, _ := middleware.GetActor(r.Context())
	return actor
}
