package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"pms/internal/domain/workflow"
	"pms/internal/transport/http/api"
	"pms/internal/transport/http/middleware"
)

// StatusFor maps a workflow error kind to its HTTP status.
func StatusFor(kind workflow.Kind) int {
	switch kind {
	case workflow.KindUnauthorized:
		return http.StatusForbidden
	case workflow.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case workflow.KindStateConflict:
		return http.StatusConflict
	case workflow.KindInvalidInput:
		return http.StatusBadRequest
	case workflow.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err as an envelope. Errors outside the workflow kinds are
// logged and reported as internal_error without their message.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var werr *workflow.Error
	if !errors.As(err, &werr) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "requestId", requestID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal error", requestID)
		return
	}
	message := werr.Message
	if message == "" {
		message = string(werr.Kind)
	}
	api.Fail(w, StatusFor(werr.Kind), string(werr.Kind), message, requestID)
}
