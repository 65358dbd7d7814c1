package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	releaseBatchSize   = 100
	releaseReason      = "payment_timeout"
	refundCancelReason = "refunded"

	transitionCancel   = "cancel"
	transitionStart    = "start"
	transitionComplete = "complete"
	transitionRetryPay = "retry_payment"
	transitionRelease  = "release_unpaid"

	callbackConfirmed = "confirmed"
	callbackFailed    = "failed"
	callbackRefunded  = "refunded"
)

// StartConsultation moves a paid, scheduled appointment to in-progress when
// the session begins.
func (s *Service) StartConsultation(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	updated, changed, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		if !a.IsParticipant(actorID) {
			return false, ErrUnauthorized
		}
		switch a.Status {
		case StatusScheduled:
		case StatusCancelled:
			return false, ErrAlreadyCancelled
		default:
			return false, fmt.Errorf("%w: cannot start a %s appointment", ErrInvalidTransition, a.Status)
		}
		if a.PaymentStatus != PaymentCompleted {
			return false, ErrPaymentRequired
		}
		a.Status = StatusInProgress
		return true, nil
	})
	s.metrics.ObserveTransition(transitionStart, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventAppointmentStarted, map[string]any{
			"actor_id": actorID.String(),
			"room_id":  updated.ConsultationRoomID,
		})
	}
	return updated, nil
}

// CompleteConsultation closes an in-progress session. Only the provider may
// complete, optionally attaching notes and a prescription.
func (s *Service) CompleteConsultation(ctx context.Context, id, actorID uuid.UUID, notes, prescription string) (*Appointment, error) {
	updated, changed, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		if actorID != a.ProviderID {
			return false, ErrUnauthorized
		}
		switch a.Status {
		case StatusInProgress:
		case StatusCancelled:
			return false, ErrAlreadyCancelled
		default:
			return false, fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, a.Status)
		}
		a.Status = StatusCompleted
		if n := stringPtr(notes); n != nil {
			a.Notes = n
		}
		if p := stringPtr(prescription); p != nil {
			a.Prescription = p
		}
		return true, nil
	})
	s.metrics.ObserveTransition(transitionComplete, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventAppointmentCompleted, map[string]any{
			"has_prescription": updated.Prescription != nil,
		})
	}
	return updated, nil
}

// Cancel cancels a scheduled appointment on behalf of its patient or
// provider. Cancelling inside the fee window before the start time is
// allowed and flagged as a late cancellation.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer span.End()

	loc, err := s.locationFor(ctx, id)
	if err != nil {
		s.metrics.ObserveTransition(transitionCancel, outcomeLabel(err))
		return nil, err
	}

	by := actorID
	updated, err := s.cancel(ctx, id, loc, func(a *Appointment) error {
		if !a.IsParticipant(actorID) {
			return ErrUnauthorized
		}
		return nil
	}, &by, reason)
	s.metrics.ObserveTransition(transitionCancel, outcomeLabel(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return updated, nil
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, loc *time.Location, authorize func(*Appointment) error, by *uuid.UUID, reason string) (*Appointment, error) {
	window := s.cfg.CancellationFeeWindow

	updated, changed, err := s.transition(ctx, id, func(a *Appointment, now time.Time) (bool, error) {
		if err := authorize(a); err != nil {
			return false, err
		}
		if a.Status == StatusCancelled {
			return false, ErrAlreadyCancelled
		}
		start := a.StartsAt(loc)
		if a.Status != StatusScheduled {
			if start.Before(now) {
				return false, ErrPastAppointment
			}
			return false, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, a.Status)
		}

		a.Status = StatusCancelled
		a.CancelledBy = by
		a.CancellationReason = stringPtr(reason)
		a.LateCancellation = window > 0 && !now.Before(start.Add(-window))
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		payload := map[string]any{
			"reason":            reason,
			"late_cancellation": updated.LateCancellation,
			"payment_status":    string(updated.PaymentStatus),
		}
		if by != nil {
			payload["cancelled_by"] = by.String()
		}
		s.logEvent(ctx, &updated.ID, EventAppointmentCancelled, payload)
		if updated.LateCancellation {
			s.logEvent(ctx, &updated.ID, EventAppointmentLateCancelled, map[string]any{
				"starts_at": updated.StartsAt(loc).Format(time.RFC3339),
				"window":    window.String(),
			})
		}
	}
	return updated, nil
}

func (s *Service) locationFor(ctx context.Context, id uuid.UUID) (*time.Location, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	provider, err := s.repo.GetProviderByID(ctx, appt.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return provider.Location(), nil
}

// OnPaymentConfirmed records a verified payment. Repeating the call with the
// same payment id is a no-op.
func (s *Service) OnPaymentConfirmed(ctx context.Context, id uuid.UUID, paymentID string) (*Appointment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrPaymentMismatch)
	}

	updated, changed, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		if a.PaymentStatus == PaymentCompleted {
			if a.PaymentID != nil && *a.PaymentID == paymentID {
				return false, nil
			}
			return false, fmt.Errorf("%w: appointment already paid by another payment", ErrPaymentMismatch)
		}
		if a.Status == StatusCancelled {
			return false, ErrAlreadyCancelled
		}
		if a.PaymentStatus != PaymentPending {
			return false, fmt.Errorf("%w: charge intent already resolved as %s", ErrPaymentMismatch, a.PaymentStatus)
		}
		a.PaymentStatus = PaymentCompleted
		a.PaymentID = &paymentID
		return true, nil
	})
	err = asCallbackError(err)
	s.metrics.ObservePaymentCallback(callbackConfirmed, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventPaymentConfirmed, map[string]any{
			"payment_id": paymentID,
			"amount":     updated.Amount,
			"currency":   updated.Currency,
		})
	}
	return updated, nil
}

// OnPaymentFailed records a failed verification. The slot stays held.
func (s *Service) OnPaymentFailed(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	updated, changed, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		switch a.PaymentStatus {
		case PaymentFailed:
			return false, nil
		case PaymentPending:
			a.PaymentStatus = PaymentFailed
			return true, nil
		default:
			return false, fmt.Errorf("%w: charge intent already resolved as %s", ErrPaymentMismatch, a.PaymentStatus)
		}
	})
	err = asCallbackError(err)
	s.metrics.ObservePaymentCallback(callbackFailed, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventPaymentFailed, map[string]any{
			"reason": reason,
		})
	}
	return updated, nil
}

// OnRefundCompleted marks a completed payment refunded and cancels the
// appointment unless it already reached a terminal status.
func (s *Service) OnRefundCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, changed, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		switch a.PaymentStatus {
		case PaymentRefunded:
			return false, nil
		case PaymentCompleted:
		default:
			return false, fmt.Errorf("%w: cannot refund a %s payment", ErrInvalidTransition, a.PaymentStatus)
		}
		a.PaymentStatus = PaymentRefunded
		if !a.Status.Terminal() {
			a.Status = StatusCancelled
			if a.CancellationReason == nil {
				a.CancellationReason = stringPtr(refundCancelReason)
			}
		}
		return true, nil
	})
	err = asCallbackError(err)
	s.metrics.ObservePaymentCallback(callbackRefunded, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logEvent(ctx, &updated.ID, EventPaymentRefunded, map[string]any{
			"status": string(updated.Status),
		})
	}
	return updated, nil
}

// RetryPayment lets the patient pay again after a failed attempt, or after
// intent creation failed at booking time. A new charge intent is issued.
func (s *Service) RetryPayment(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	reset, _, err := s.transition(ctx, id, func(a *Appointment, _ time.Time) (bool, error) {
		if actorID != a.PatientID {
			return false, ErrUnauthorized
		}
		switch a.Status {
		case StatusScheduled:
		case StatusCancelled:
			return false, ErrAlreadyCancelled
		default:
			return false, fmt.Errorf("%w: cannot pay for a %s appointment", ErrInvalidTransition, a.Status)
		}
		switch a.PaymentStatus {
		case PaymentFailed:
			a.PaymentStatus = PaymentPending
			a.ChargeIntentID = nil
			a.PaymentID = nil
			return true, nil
		case PaymentPending:
			return false, nil
		default:
			return false, fmt.Errorf("%w: payment already %s", ErrInvalidTransition, a.PaymentStatus)
		}
	})
	s.metrics.ObserveTransition(transitionRetryPay, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	if reset.ChargeIntentID != nil {
		return reset, nil
	}
	return s.requestChargeIntent(ctx, reset)
}

// ReleaseUnpaid cancels scheduled appointments whose payment is still pending
// or failed and which were booked more than olderThan ago. It returns the
// number released. A non-positive olderThan disables reclamation.
func (s *Service) ReleaseUnpaid(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-olderThan)
	candidates, err := s.repo.FindStaleUnpaid(ctx, cutoff, releaseBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale unpaid appointments: %w", err)
	}

	locations := make(map[uuid.UUID]*time.Location)
	released := 0
	for _, appt := range candidates {
		loc, ok := locations[appt.ProviderID]
		if !ok {
			provider, err := s.repo.GetProviderByID(ctx, appt.ProviderID)
			if err != nil {
				s.logger.Error("failed to load provider for unpaid release", "appointment_id", appt.ID, "error", err)
				continue
			}
			loc = provider.Location()
			locations[appt.ProviderID] = loc
		}

		_, err := s.cancel(ctx, appt.ID, loc, func(a *Appointment) error {
			if a.PaymentStatus != PaymentPending && a.PaymentStatus != PaymentFailed {
				return fmt.Errorf("%w: payment is now %s", ErrInvalidTransition, a.PaymentStatus)
			}
			return nil
		}, nil, releaseReason)
		s.metrics.ObserveTransition(transitionRelease, outcomeLabel(err))
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				s.logger.Debug("unpaid appointment moved on, skipping", "appointment_id", appt.ID, "error", err)
				continue
			}
			s.logger.Error("failed to release unpaid appointment", "appointment_id", appt.ID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

// asCallbackError reports unknown appointments as payment mismatches, since
// the callback then references no open intent.
func asCallbackError(err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("%w: %w", ErrPaymentMismatch, err)
	}
	return err
}
