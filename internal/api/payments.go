package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/payment"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

const signatureHeader = "X-Payment-Signature"

// readSignedBody returns the raw body if its HMAC matches the signature
// header, writing the error response otherwise.
func readSignedBody(w http.ResponseWriter, r *http.Request, secret string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return nil, false
	}
	if !payment.VerifyCallback(secret, body, r.Header.Get(signatureHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid_signature", "callback signature does not match")
		return nil, false
	}
	return body, true
}

// ackIgnored acknowledges callbacks that cannot apply, so the gateway stops
// redelivering them.
func ackIgnored(w http.ResponseWriter, r *http.Request, logger *logging.Logger, id uuid.UUID, err error) bool {
	if !errors.Is(err, appointment.ErrPaymentMismatch) && !errors.Is(err, appointment.ErrAlreadyCancelled) && !errors.Is(err, appointment.ErrInvalidTransition) {
		return false
	}
	logger.Warn("payment callback ignored", "appointment_id", id, "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
	writeJSON(w, http.StatusOK, CallbackResponse{Status: "ignored"})
	return true
}

func paymentCallbackHandler(svc Scheduler, secret string, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readSignedBody(w, r, secret)
		if !ok {
			return
		}

		var req PaymentCallbackRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		id, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		var appt *appointment.Appointment
		if req.Verified {
			appt, err = svc.OnPaymentConfirmed(r.Context(), id, req.PaymentID)
		} else {
			appt, err = svc.OnPaymentFailed(r.Context(), id, req.Reason)
		}
		if err != nil {
			if ackIgnored(w, r, logger, id, err) {
				return
			}
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, CallbackResponse{Status: "processed", PaymentStatus: string(appt.PaymentStatus)})
	}
}

func refundCallbackHandler(svc Scheduler, secret string, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readSignedBody(w, r, secret)
		if !ok {
			return
		}

		var req RefundCallbackRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		id, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		appt, err := svc.OnRefundCompleted(r.Context(), id)
		if err != nil {
			if ackIgnored(w, r, logger, id, err) {
				return
			}
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, CallbackResponse{Status: "processed", PaymentStatus: string(appt.PaymentStatus)})
	}
}
