package jobshandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/auth"
	"pms/internal/platform/jobs"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
)

type Handler struct {
	Jobs *jobs.Service
}

func NewHandler(service *jobs.Service) *Handler {
	return &Handler{Jobs: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Use(middleware.RequireRole(auth.RoleHR))
		r.Get("/runs", h.handleListRuns)
		r.Post("/rollups/rebuild", h.handleRebuildRollups)
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	api.Success(w, h.Jobs.History(), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRebuildRollups(w http.ResponseWriter, r *http.Request) {
	details, err := h.Jobs.RebuildRollups(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "job_failed", "rollup rebuild failed", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, details, middleware.GetRequestID(r.Context()))
}
