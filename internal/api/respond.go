package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/payment"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps service errors to status codes. The more specific
// invalid transitions are matched before the generic one.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrPaymentMismatch):
		writeError(w, http.StatusConflict, "payment_mismatch", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, appointment.ErrPastAppointment):
		writeError(w, http.StatusConflict, "past_appointment", err.Error())
	case errors.Is(err, appointment.ErrPaymentRequired):
		writeError(w, http.StatusConflict, "payment_required", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, payment.ErrGateway):
		logger.Warn("payment gateway error", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, "payment_gateway_error", "payment gateway is unavailable, please retry")
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
