package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// HoldsSlot reports whether an appointment in this status occupies its slot.
func (s Status) HoldsSlot() bool {
	return s == StatusScheduled || s == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type ConsultationType string

const (
	ConsultationVideo ConsultationType = "video"
	ConsultationChat  ConsultationType = "chat"
)

func (t ConsultationType) Valid() bool {
	return t == ConsultationVideo || t == ConsultationChat
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Identity is what patients and providers have in common.
type Identity struct {
	ID    uuid.UUID
	Name  string
	Email *string
}

type Patient struct {
	Identity
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider is the dermatologist offering consultations.
type Provider struct {
	Identity
	Specialty       *string
	ConsultationFee int64 // minor currency unit
	Currency        string
	Timezone        string // IANA name, empty means UTC
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location returns the provider's wall-clock zone, UTC if unknown.
func (p *Provider) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Appointment struct {
	ID                 uuid.UUID
	ProviderID         uuid.UUID
	PatientID          uuid.UUID
	Date               time.Time // calendar day, midnight UTC, read in provider-local time
	Time               schedule.SlotLabel
	Type               ConsultationType
	Status             Status
	Urgency            Urgency
	Symptoms           string
	Amount             int64
	Currency           string
	PaymentStatus      PaymentStatus
	PaymentID          *string
	ChargeIntentID     *string
	ConsultationRoomID string
	Notes              *string
	Prescription       *string
	CancelledBy        *uuid.UUID
	CancellationReason *string
	LateCancellation   bool
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StartsAt is the scheduled instant of the appointment in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return schedule.At(a.Date, a.Time, loc)
}

// IsParticipant reports whether actorID is the patient or the provider.
func (a *Appointment) IsParticipant(actorID uuid.UUID) bool {
	return actorID == a.PatientID || actorID == a.ProviderID
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ProviderSummary struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
}

type PatientSummary struct {
	ID    uuid.UUID
	Name  string
	Email *string
}

// AppointmentDetail is an appointment joined with display data.
type AppointmentDetail struct {
	Appointment
	Provider *ProviderSummary
	Patient  *PatientSummary
}
