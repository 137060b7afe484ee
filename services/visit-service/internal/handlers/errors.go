package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/visitbook/libs/httpx"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeVisitNotFound       = "VISIT_NOT_FOUND"
	CodeSlotUnavailable     = "SLOT_UNAVAILABLE"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeCancelWindowExpired = "CANCEL_WINDOW_EXPIRED"
	CodeForbidden           = "FORBIDDEN"
	CodeInternal            = "INTERNAL_ERROR"
)

func writeValidation(w http.ResponseWriter, message string) {
	httpx.WriteError(w, http.StatusBadRequest, CodeValidation, message)
}

// writeServiceError maps booking errors onto status codes. Internal errors are
// logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, booking.ErrVisitNotFound):
		httpx.WriteError(w, http.StatusNotFound, CodeVisitNotFound, err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		httpx.WriteError(w, http.StatusConflict, CodeSlotUnavailable, "slot is not available")
	case errors.Is(err, booking.ErrCancelWindowExpired):
		httpx.WriteError(w, http.StatusConflict, CodeCancelWindowExpired, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
