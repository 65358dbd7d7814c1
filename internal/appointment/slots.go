package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

const invalidateAttempts = 3

// SetWeeklySlots replaces the provider's full slot list for one weekday.
// An empty list closes that weekday.
func (s *Service) SetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, labels []string) (schedule.SlotList, error) {
	if !day.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, schedule.ErrInvalidWeekday)
	}
	slots, err := schedule.NewSlotList(labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	if err := s.repo.ReplaceWeeklySlots(ctx, providerID, day, slots); err != nil {
		return nil, fmt.Errorf("replace weekly slots: %w", err)
	}

	s.invalidateTemplate(ctx, providerID, day)

	s.logEvent(ctx, nil, EventAvailabilityUpdated, map[string]any{
		"provider_id": providerID.String(),
		"weekday":     day.String(),
		"slots":       slots.Strings(),
	})

	return slots, nil
}

// GetWeeklySlots returns the template for one weekday, empty if never set.
func (s *Service) GetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, error) {
	var generation int64
	cacheReadable := false
	if s.cache != nil {
		slots, gen, ok, err := s.cache.Get(ctx, providerID, day)
		generation = gen
		switch {
		case err != nil:
			s.metrics.ObserveCacheLookup("error")
			s.logger.Warn("availability cache read failed", "provider_id", providerID, "error", err)
		case ok:
			s.metrics.ObserveCacheLookup("hit")
			return slots, nil
		default:
			s.metrics.ObserveCacheLookup("miss")
			cacheReadable = true
		}
	}

	slots, err := s.repo.GetWeeklySlots(ctx, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("load weekly slots: %w", err)
	}
	if slots == nil {
		slots = schedule.SlotList{}
	}

	if cacheReadable {
		if err := s.cache.Set(ctx, providerID, day, generation, slots); err != nil {
			s.logger.Warn("availability cache write failed", "provider_id", providerID, "error", err)
		}
	}
	return slots, nil
}

// GetWeeklyTemplate returns all configured weekdays of a provider.
func (s *Service) GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) (schedule.WeeklyTemplate, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	tmpl, err := s.repo.GetWeeklyTemplate(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load weekly template: %w", err)
	}
	return tmpl, nil
}

// AvailableSlots returns the slot labels still open on date: the weekday
// template minus labels held by scheduled or in-progress appointments, in
// template order. Past dates are not rejected here.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) (schedule.SlotList, error) {
	ctx, span := tracer.Start(ctx, "appointment.available_slots", trace.WithAttributes(
		attribute.String("provider_id", providerID.String()),
		attribute.String("date", date.Format(schedule.DateFormat)),
	))
	defer span.End()

	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return s.openSlots(ctx, providerID, date)
}

func (s *Service) openSlots(ctx context.Context, providerID uuid.UUID, date time.Time) (schedule.SlotList, error) {
	template, err := s.GetWeeklySlots(ctx, providerID, schedule.WeekdayOf(date))
	if err != nil {
		return nil, err
	}
	return s.subtractHeld(ctx, providerID, date, template)
}

// openSlotsFromStore is openSlots without the cache, for the booking commit.
func (s *Service) openSlotsFromStore(ctx context.Context, providerID uuid.UUID, date time.Time) (schedule.SlotList, error) {
	template, err := s.repo.GetWeeklySlots(ctx, providerID, schedule.WeekdayOf(date))
	if err != nil {
		return nil, fmt.Errorf("load weekly slots: %w", err)
	}
	return s.subtractHeld(ctx, providerID, date, template)
}

func (s *Service) subtractHeld(ctx context.Context, providerID uuid.UUID, date time.Time, template schedule.SlotList) (schedule.SlotList, error) {
	if len(template) == 0 {
		return schedule.SlotList{}, nil
	}

	held, err := s.repo.ListHeldSlots(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load held slots: %w", err)
	}
	return template.Without(held), nil
}

// invalidateTemplate moves the cached day to a new generation. A failure is
// retried; after that the old entry lives until its TTL expires.
func (s *Service) invalidateTemplate(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) {
	if s.cache == nil {
		return
	}
	var err error
	for attempt := 0; attempt < invalidateAttempts; attempt++ {
		if err = s.cache.Invalidate(ctx, providerID, day); err == nil {
			return
		}
	}
	s.logger.Error("failed to invalidate availability cache", "provider_id", providerID, "weekday", day.String(), "error", err)
}
