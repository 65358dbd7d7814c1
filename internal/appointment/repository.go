package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned by CreateAppointment when the active-slot unique
	// key (provider, date, time) is already held.
	ErrSlotTaken = errors.New("slot key already held")
	// ErrVersionConflict is returned by UpdateAppointment when the row moved on.
	ErrVersionConflict = errors.New("appointment version conflict")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	// Weekly availability template
	GetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, error)
	GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) (schedule.WeeklyTemplate, error)
	ReplaceWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, slots schedule.SlotList) error

	// Slot labels held by scheduled or in-progress appointments on date
	ListHeldSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]schedule.SlotLabel, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Read side
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, actorID uuid.UUID, role Role, limit, offset int) ([]AppointmentDetail, error)

	// Unpaid reclamation
	FindStaleUnpaid(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// TemplateCache caches weekday templates. Implementations must be safe for
// concurrent use; a miss is (nil, generation, false, nil). Set must be given
// the generation returned by the Get that missed, so a fill that raced an
// Invalidate is never served.
type TemplateCache interface {
	Get(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, int64, bool, error)
	Set(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, generation int64, slots schedule.SlotList) error
	Invalidate(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) error
}
