package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

type BookAppointmentRequest struct {
	ProviderID       string `json:"provider_id"`
	PatientID        string `json:"patient_id,omitempty"` // admins only; patients book for themselves
	Date             string `json:"date"`
	Time             string `json:"time"`
	ConsultationType string `json:"consultation_type"`
	Symptoms         string `json:"symptoms"`
	Urgency          string `json:"urgency,omitempty"`
}

type CompleteConsultationRequest struct {
	Notes        string `json:"notes"`
	Prescription string `json:"prescription"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type WeeklySlotsRequest struct {
	Slots []string `json:"slots"`
}

type PaymentCallbackRequest struct {
	AppointmentID string `json:"appointment_id"`
	PaymentID     string `json:"payment_id"`
	Verified      bool   `json:"verified"`
	Reason        string `json:"reason,omitempty"`
}

type RefundCallbackRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Slots      []string  `json:"slots"`
}

type WeeklySlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Weekday    string    `json:"weekday"`
	Slots      []string  `json:"slots"`
}

type WeeklyTemplateResponse struct {
	ProviderID  uuid.UUID           `json:"provider_id"`
	WeeklySlots map[string][]string `json:"weekly_slots"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	ConsultationType   string     `json:"consultation_type"`
	Status             string     `json:"status"`
	Urgency            string     `json:"urgency"`
	Symptoms           string     `json:"symptoms"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	PaymentStatus      string     `json:"payment_status"`
	PaymentID          *string    `json:"payment_id,omitempty"`
	ChargeIntentID     *string    `json:"charge_intent_id,omitempty"`
	ConsultationRoomID string     `json:"consultation_room_id"`
	Notes              *string    `json:"notes,omitempty"`
	Prescription       *string    `json:"prescription,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	LateCancellation   bool       `json:"late_cancellation"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type ProviderSummaryResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type PatientSummaryResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Provider *ProviderSummaryResponse `json:"provider,omitempty"`
	Patient  *PatientSummaryResponse  `json:"patient,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentDetailResponse `json:"appointments"`
	Limit        int                         `json:"limit"`
	Offset       int                         `json:"offset"`
}

type CallbackResponse struct {
	Status        string `json:"status"` // processed, ignored
	PaymentStatus string `json:"payment_status,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		PatientID:          a.PatientID,
		Date:               a.Date.Format(schedule.DateFormat),
		Time:               string(a.Time),
		ConsultationType:   string(a.Type),
		Status:             string(a.Status),
		Urgency:            string(a.Urgency),
		Symptoms:           a.Symptoms,
		Amount:             a.Amount,
		Currency:           a.Currency,
		PaymentStatus:      string(a.PaymentStatus),
		PaymentID:          a.PaymentID,
		ChargeIntentID:     a.ChargeIntentID,
		ConsultationRoomID: a.ConsultationRoomID,
		Notes:              a.Notes,
		Prescription:       a.Prescription,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		LateCancellation:   a.LateCancellation,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(&d.Appointment)}
	if d.Provider != nil {
		resp.Provider = &ProviderSummaryResponse{ID: d.Provider.ID, Name: d.Provider.Name, Specialty: d.Provider.Specialty}
	}
	if d.Patient != nil {
		resp.Patient = &PatientSummaryResponse{ID: d.Patient.ID, Name: d.Patient.Name, Email: d.Patient.Email}
	}
	return resp
}
