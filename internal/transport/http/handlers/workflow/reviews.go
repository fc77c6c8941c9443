package workflowhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
	"pms/internal/transport/http/shared"
)

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rating   *int   `json:"rating"`
		Comments string `json:"comments"`
	}
	if !decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	if payload.Rating == nil {
		v.Add("rating", "is required")
	} else {
		v.Range("rating", *payload.Rating, workflow.MinRating, workflow.MaxRating)
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	approval, err := h.Engine.Approve(r.Context(), actorOf(r), chi.URLParam(r, "goalID"), workflow.ApproveInput{
		Rating:   *payload.Rating,
		Comments: payload.Comments,
	})
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	api.Success(w, approval, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.Projector.ReviewsFor(r.Context(), actorOf(r), r.URL.Query().Get("cycle_id"))
	if err != nil {
		shared.Fail(w, r, err)
		return
	}
	page := shared.ParsePagination(r, defaultPageSize, maxPageSize)
	api.Success(w, shared.Page(reviews, page), middleware.GetRequestID(r.Context()))
}
