package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	redisclient "github.com/hackgods/telederm-scheduling/internal/redis"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

const defaultPaymentTimeout = 5 * time.Second

type BookingRequest struct {
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	Date       time.Time // calendar day
	Time       string    // HH:MM
	Type       ConsultationType
	Symptoms   string
	Urgency    Urgency
}

// PriceFor returns the amount charged for a consultation. Chat is 30% off the
// provider fee, rounded half up to the minor unit.
func PriceFor(fee int64, t ConsultationType) int64 {
	if t == ConsultationChat {
		return (fee*70 + 50) / 100
	}
	return fee
}

func newRoomID() string {
	return "room_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Book validates the request, commits a scheduled appointment for the slot
// and asks the payment bridge for a charge intent.
//
// Exactly one of any number of concurrent requests for the same provider,
// date and time succeeds; the others fail with ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "appointment.book", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID.String()),
		attribute.String("slot", req.Time),
	))
	defer span.End()

	appt, err := s.book(ctx, req)
	s.metrics.ObserveBooking(outcomeLabel(err), time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeLabel(err))
	}
	return appt, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	label, err := schedule.ParseSlotLabel(req.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: consultation type must be video or chat", ErrInvalidRequest)
	}
	if req.Urgency == "" {
		req.Urgency = UrgencyLow
	}
	if !req.Urgency.Valid() {
		return nil, fmt.Errorf("%w: urgency must be low, medium or high", ErrInvalidRequest)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidDate)
	}

	provider, err := s.repo.GetProviderByID(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	loc := provider.Location()
	now := s.now()
	y, m, d := req.Date.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	today := schedule.DateIn(now, loc)

	if date.Before(today) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrInvalidDate, date.Format(schedule.DateFormat))
	}
	if h := s.cfg.BookingHorizonDays; h > 0 && date.After(today.AddDate(0, 0, h)) {
		return nil, fmt.Errorf("%w: %s is more than %d days ahead", ErrInvalidDate, date.Format(schedule.DateFormat), h)
	}
	if !schedule.At(date, label, loc).After(now) {
		return nil, fmt.Errorf("%w: %s %s has already started", ErrSlotUnavailable, date.Format(schedule.DateFormat), label)
	}

	currency := provider.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	candidate := &Appointment{
		ID:                 uuid.New(),
		ProviderID:         provider.ID,
		PatientID:          req.PatientID,
		Date:               date,
		Time:               label,
		Type:               req.Type,
		Status:             StatusScheduled,
		Urgency:            req.Urgency,
		Symptoms:           strings.TrimSpace(req.Symptoms),
		Amount:             PriceFor(provider.ConsultationFee, req.Type),
		Currency:           currency,
		PaymentStatus:      PaymentPending,
		ConsultationRoomID: newRoomID(),
	}

	var created *Appointment
	commit := func(ctx context.Context) error {
		appt, err := s.commitBooking(ctx, candidate)
		if err != nil {
			return err
		}
		created = appt
		return nil
	}

	if s.locker == nil {
		err = commit(ctx)
	} else {
		key := redisclient.SlotLockKey(provider.ID, date.Format(schedule.DateFormat), string(label))
		err = s.locker.WithLock(ctx, key, commit)
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, redisclient.ErrLockUnavailable) {
			// The lock only narrows contention; the unique index still decides.
			s.logger.Debug("slot lock not held, falling back to storage arbitration", "key", key, "error", err)
			err = commit(ctx)
		}
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &created.ID, EventAppointmentBooked, map[string]any{
		"provider_id":       created.ProviderID.String(),
		"patient_id":        created.PatientID.String(),
		"date":              created.Date.Format(schedule.DateFormat),
		"time":              string(created.Time),
		"consultation_type": string(created.Type),
		"urgency":           string(created.Urgency),
		"amount":            created.Amount,
		"currency":          created.Currency,
	})

	withIntent, err := s.requestChargeIntent(ctx, created)
	if err != nil {
		s.logger.Error("charge intent creation failed, appointment stays pending", "appointment_id", created.ID, "error", err)
		return created, nil
	}
	return withIntent, nil
}

// commitBooking re-validates the slot against storage, never the cache, and
// inserts the appointment. A unique violation from storage is reported as
// ErrSlotUnavailable.
func (s *Service) commitBooking(ctx context.Context, a *Appointment) (*Appointment, error) {
	open, err := s.openSlotsFromStore(ctx, a.ProviderID, a.Date)
	if err != nil {
		return nil, err
	}
	if !open.Contains(a.Time) {
		return nil, ErrSlotUnavailable
	}

	created, err := s.repo.CreateAppointment(ctx, a)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return created, nil
}

// requestChargeIntent asks the bridge for a charge intent and stores its id.
func (s *Service) requestChargeIntent(ctx context.Context, a *Appointment) (*Appointment, error) {
	if s.bridge == nil {
		return a, nil
	}

	timeout := s.cfg.PaymentTimeout
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}
	intentCtx, cancel := context.WithTimeout(ctx, timeout)
	intentID, err := s.bridge.CreateChargeIntent(intentCtx, a.ID, a.Amount, a.Currency)
	cancel()
	if err != nil {
		return a, fmt.Errorf("create charge intent: %w", err)
	}

	updated, changed, err := s.transition(ctx, a.ID, func(next *Appointment, _ time.Time) (bool, error) {
		if next.Status != StatusScheduled || next.PaymentStatus != PaymentPending {
			return false, nil
		}
		if next.ChargeIntentID != nil && *next.ChargeIntentID == intentID {
			return false, nil
		}
		next.ChargeIntentID = &intentID
		return true, nil
	})
	if err != nil {
		return a, fmt.Errorf("store charge intent: %w", err)
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventPaymentIntentCreated, map[string]any{
			"intent_id": intentID,
			"amount":    updated.Amount,
			"currency":  updated.Currency,
		})
	}
	return updated, nil
}
