package workflowhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

func (h *Handler) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		PeriodStart string `json:"period_start"`
		PeriodEnd   string `json:"period_end"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("label", payload.Label)
	v.Required("period_start", payload.PeriodStart)
	v.Required("period_end", payload.PeriodEnd)
	start, _ := v.Date("period_start", payload.PeriodStart)
	end, _ := v.Date("period_end", payload.PeriodEnd)
	v.DateOrder("period_start", start, "period_end", end)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	cycle, err := h.Engine.CreateCycle(r.Context(), actorOf(r), workflow.CycleInput{
		ID:          payload.ID,
		Label:       payload.Label,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Created(w, cycle, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.Engine.ListCycles(r.Context(), actorOf(r))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, cycles, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCloseCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.Engine.CloseCycle(r.Context(), actorOf(r), chi.URLParam(r, "cycleID"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, cycle, middleware.GetRequestID(r.Context()))
}
