package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"shelfstore/internal/domain"
	"shelfstore/internal/middleware"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var precondition *domain.PreconditionError
	var backend *domain.BackendError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &precondition):
		return http.StatusPreconditionFailed
	case errors.As(err, &backend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error as JSON. Precondition failures attach
// the conflicting object's current ETag so the client can reconcile. Server
// side failures are logged under the request id and never leak backend
// internals to clients.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)

	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) && precondition.CurrentETag != "" {
		w.Header().Set("ETag", precondition.CurrentETag)
	}

	msg := err.Error()
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		msg = http.StatusText(code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": msg,
	})
}
