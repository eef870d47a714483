package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/reminder"
	"github.com/hackgods/clinic-booking/internal/tz"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps an engine error to its HTTP status and stable code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)

	switch {
	case errors.Is(err, apperror.ErrInvalidInterval), errors.Is(err, apperror.ErrValidation):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrSchedulingTooLate):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, apperror.ErrNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, apperror.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, apperror.ErrUpstreamUnavailable):
		loggerFrom(r.Context()).Warn("upstream unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, code, "upstream service unavailable")
	default:
		loggerFrom(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func errorCode(err error) string {
	if code := appointment.Code(err); code != "" {
		return code
	}

	switch {
	case errors.Is(err, availability.ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, availability.ErrWindowTooLarge):
		return "window_too_large"
	case errors.Is(err, availability.ErrInvalidSlotDuration):
		return "invalid_slot_duration"
	case errors.Is(err, reminder.ErrJobNotFound):
		return "job_not_found"
	case errors.Is(err, reminder.ErrJobNotScheduled):
		return "job_not_scheduled"
	case errors.Is(err, reminder.ErrTooLate):
		return "scheduling_too_late"
	case errors.Is(err, tz.ErrUnparseableTime):
		return "invalid_time"
	}

	switch apperror.Kind(err) {
	case apperror.ErrInvalidInterval:
		return "invalid_interval"
	case apperror.ErrValidation:
		return "validation_failed"
	case apperror.ErrConflict:
		return "conflict"
	case apperror.ErrNotFound:
		return "not_found"
	case apperror.ErrForbidden:
		return "forbidden"
	case apperror.ErrUpstreamUnavailable:
		return "upstream_unavailable"
	case apperror.ErrSchedulingTooLate:
		return "scheduling_too_late"
	}
	return "internal_error"
}
