package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Scheduler is the part of appointment.Service the HTTP layer drives.
type Scheduler interface {
	AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) (schedule.SlotList, error)
	GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) (schedule.WeeklyTemplate, error)
	SetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, labels []string) (schedule.SlotList, error)

	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, actorID uuid.UUID, role appointment.Role, limit, offset int) ([]appointment.AppointmentDetail, error)

	StartConsultation(ctx context.Context, id, actorID uuid.UUID) (*appointment.Appointment, error)
	CompleteConsultation(ctx context.Context, id, actorID uuid.UUID, notes, prescription string) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*appointment.Appointment, error)
	RetryPayment(ctx context.Context, id, actorID uuid.UUID) (*appointment.Appointment, error)

	OnPaymentConfirmed(ctx context.Context, id uuid.UUID, paymentID string) (*appointment.Appointment, error)
	OnPaymentFailed(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	OnRefundCompleted(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

func bookAppointmentHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req BookAppointmentRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		var patientID uuid.UUID
		switch actor.Role {
		case string(appointment.RolePatient):
			patientID = actor.ID
			if req.PatientID != "" && req.PatientID != actor.ID.String() {
				writeError(w, http.StatusForbidden, "forbidden", "patients can only book for themselves")
				return
			}
		case RoleAdmin:
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		default:
			writeError(w, http.StatusForbidden, "forbidden", "only patients can book appointments")
			return
		}

		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			ProviderID: providerID,
			PatientID:  patientID,
			Date:       date,
			Time:       req.Time,
			Type:       appointment.ConsultationType(req.ConsultationType),
			Symptoms:   req.Symptoms,
			Urgency:    appointment.Urgency(req.Urgency),
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		q := r.URL.Query()

		role := appointment.Role(q.Get("role"))
		if role == "" {
			role = appointment.Role(actor.Role)
		}
		limit, err := queryInt(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		offset, err := queryInt(q.Get("offset"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}

		list, err := svc.ListAppointments(r.Context(), actor.ID, role, limit, offset)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentDetailResponse, 0, len(list)),
			Limit:        limit,
			Offset:       offset,
		}
		for i := range list {
			resp.Appointments = append(resp.Appointments, toDetailResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if !actor.IsAdmin() && !detail.IsParticipant(actor.ID) {
			writeError(w, http.StatusForbidden, "forbidden", appointment.ErrUnauthorized.Error())
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func startConsultationHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.StartConsultation(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeConsultationHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req CompleteConsultationRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.CompleteConsultation(r.Context(), id, actor.ID, req.Notes, req.Prescription)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actor.ID, req.Reason)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func retryPaymentHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.RetryPayment(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes a bounded request body. With optional set, an empty
// body leaves v untouched.
func decodeJSON(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
