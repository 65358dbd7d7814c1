package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/observability/metrics"
	"github.com/hackgods/telederm-scheduling/internal/payment"
	redisclient "github.com/hackgods/telederm-scheduling/internal/redis"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStarted       = "APPOINTMENT_STARTED"
	EventAppointmentCompleted     = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentLateCancelled = "APPOINTMENT_LATE_CANCELLATION"
	EventPaymentIntentCreated     = "PAYMENT_INTENT_CREATED"
	EventPaymentConfirmed         = "PAYMENT_CONFIRMED"
	EventPaymentFailed            = "PAYMENT_FAILED"
	EventPaymentRefunded          = "PAYMENT_REFUNDED"
	EventAvailabilityUpdated      = "AVAILABILITY_UPDATED"
)

const (
	maxTransitionAttempts = 3
	defaultListLimit      = 20
	maxListLimit          = 100
)

var (
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidDate       = errors.New("date is outside the bookable window")
	ErrInvalidRequest    = errors.New("invalid booking request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("actor is not allowed to act on this appointment")
	ErrPaymentMismatch   = errors.New("payment callback does not match an open charge intent")
	ErrConcurrentUpdate  = errors.New("appointment kept changing, please retry")

	// The following are all invalid transitions, with a more precise reason.
	ErrAlreadyCancelled = fmt.Errorf("%w: appointment already cancelled", ErrInvalidTransition)
	ErrPastAppointment  = fmt.Errorf("%w: appointment was already acted upon in the past", ErrInvalidTransition)
	ErrPaymentRequired  = fmt.Errorf("%w: payment has not completed", ErrInvalidTransition)
)

var tracer = otel.Tracer("telederm.internal.appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cache   TemplateCache
	bridge  payment.Bridge
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
	cfg     config.Config
	now     func() time.Time
}

// NewService builds the scheduling service. The locker may be nil, in which
// case bookings rely on the storage uniqueness constraint alone.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logging.Default(),
		now:    time.Now,
	}
}

func (s *Service) WithCache(cache TemplateCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithBridge(bridge payment.Bridge) *Service {
	s.bridge = bridge
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("failed to insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointments returns the actor's appointments, newest date first.
func (s *Service) ListAppointments(ctx context.Context, actorID uuid.UUID, role Role, limit, offset int) ([]AppointmentDetail, error) {
	if role != RolePatient && role != RoleDoctor {
		return nil, fmt.Errorf("%w: role must be patient or doctor", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointments(ctx, actorID, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// transition applies fn to a fresh copy of the appointment and persists it
// with an optimistic version check. On a lost race the appointment is
// re-read and fn re-evaluated, so the loser sees the winner's state.
// fn returns false when there is nothing to write.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(a *Appointment, now time.Time) (bool, error)) (*Appointment, bool, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("load appointment: %w", err)
		}

		next := *current
		changed, err := fn(&next, s.now())
		if err != nil {
			return current, false, err
		}
		if !changed {
			return current, false, nil
		}

		updated, err := s.repo.UpdateAppointment(ctx, &next)
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Debug("appointment version conflict, retrying", "appointment_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("update appointment: %w", err)
		}
		return updated, true, nil
	}
	return nil, false, ErrConcurrentUpdate
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPaymentMismatch):
		return "payment_mismatch"
	default:
		return "error"
	}
}
