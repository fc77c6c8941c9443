package workflowhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

type assignPayload struct {
	CycleID     string `json:"cycle_id"`
	TargetID    string `json:"target_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timeline    string `json:"timeline"`
}

func (p assignPayload) validate(v *shared.Validator) {
	v.Required("cycle_id", p.CycleID)
	v.Required("target_id", p.TargetID)
	v.Required("title", p.Title)
	v.Required("timeline", p.Timeline)
	v.Enum("timeline", p.Timeline, []string{
		string(workflow.TimelineQuarterly),
		string(workflow.TimelineHalfYearly),
		string(workflow.TimelineAnnual),
	})
}

func (p assignPayload) input() workflow.AssignInput {
	return workflow.AssignInput{
		CycleID:     p.CycleID,
		TargetID:    p.TargetID,
		Title:       p.Title,
		Description: p.Description,
		Timeline:    p.Timeline,
	}
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var payload assignPayload
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	payload.validate(v)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	goal, err := h.Engine.Assign(r.Context(), actorOf(r), payload.input())
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Created(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var payload assignPayload
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	payload.validate(v)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	goal, err := h.Engine.CreateDraft(r.Context(), actorOf(r), payload.input())
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Created(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAssignDraft(w http.ResponseWriter, r *http.Request) {
	goal, err := h.Engine.AssignDraft(r.Context(), actorOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := h.Engine.Get(r.Context(), actorOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	goal, err := h.Engine.Accept(r.Context(), actorOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Progress *int   `json:"progress"`
		Comments string `json:"comments"`
	}
	if !decode(w, r, &payload) {
		return
	}

	goal, err := h.Engine.Submit(r.Context(), actorOf(r), chi.URLParam(r, "goalID"), workflow.SubmitInput{
		Progress: payload.Progress,
		Comments: payload.Comments,
	})
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Progress *int `json:"progress"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	if payload.Progress == nil {
		v.Add("progress", "is required")
	} else {
		v.Range("progress", *payload.Progress, 0, 100)
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	goal, err := h.Engine.UpdateProgress(r.Context(), actorOf(r), chi.URLParam(r, "goalID"), *payload.Progress)
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMyAssignedGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.Projector.MyAssignedGoals(r.Context(), actorOf(r), r.URL.Query().Get("cycle_id"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	page := shared.ParsePagination(r, defaultPageSize, maxPageSize)
	api.Success(w, shared.Page(goals, page), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.Projector.PendingApprovals(r.Context(), actorOf(r))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	page := shared.ParsePagination(r, defaultPageSize, maxPageSize)
	api.Success(w, shared.Page(goals, page), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleTeamGoals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := shared.NewValidator()
	v.Required("employee_id", q.Get("employee_id"))
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	goals, err := h.Projector.TeamGoals(r.Context(), actorOf(r), q.Get("employee_id"), q.Get("cycle_id"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	page := shared.ParsePagination(r, defaultPageSize, maxPageSize)
	api.Success(w, shared.Page(goals, page), middleware.GetRequestID(r.Context()))
}
