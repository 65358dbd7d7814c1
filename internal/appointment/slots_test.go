package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/telederm-scheduling/internal/redis"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

func TestSetWeeklySlotsReplacesDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, got.Strings())

	_, err = f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Monday, []string{"16:00", "15:00"})
	require.NoError(t, err)
	got, err = f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"16:00", "15:00"}, got.Strings(), "order is preserved")

	_, err = f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Monday, nil)
	require.NoError(t, err)
	got, err = f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, 3, f.repo.countEvents(EventAvailabilityUpdated), "fixture setup plus two updates")
}

func TestSetWeeklySlotsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Tuesday, []string{"9:00"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, schedule.ErrInvalidSlotLabel)

	_, err = f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Tuesday, []string{"09:00", "09:00"})
	assert.ErrorIs(t, err, schedule.ErrDuplicateSlot)

	_, err = f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Weekday(0), []string{"09:00"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.SetWeeklySlots(ctx, uuid.New(), schedule.Tuesday, []string{"09:00"})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	// failed updates leave the template alone
	got, err := f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Tuesday)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetWeeklyTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Wednesday, []string{"14:00"})
	require.NoError(t, err)

	tmpl, err := f.svc.GetWeeklyTemplate(ctx, f.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, tmpl.For(schedule.Monday).Strings())
	assert.Equal(t, []string{"14:00"}, tmpl.For(schedule.Wednesday).Strings())
	assert.Empty(t, tmpl.For(schedule.Sunday))

	_, err = f.svc.GetWeeklyTemplate(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestAvailableSlotsSubtractsHeldSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, open.Strings())

	appt := f.book(t, f.patient.ID, nextMonday, "10:00")
	open, err = f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "11:00"}, open.Strings())

	// other Mondays are unaffected
	open, err = f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, open, 3)

	_, err = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "feeling better")
	require.NoError(t, err)
	open, err = f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, open.Strings(), "cancelled slot is released")
}

func TestAvailableSlotsInProgressStillHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, today, "09:00")
	f.pay(t, appt.ID)
	_, err := f.svc.StartConsultation(ctx, appt.ID, f.provider.ID)
	require.NoError(t, err)

	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00"}, open.Strings())
}

func TestAvailableSlotsClosedDayAndUnknownProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sunday := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, sunday)
	require.NoError(t, err)
	assert.NotNil(t, open)
	assert.Empty(t, open)

	_, err = f.svc.AvailableSlots(ctx, uuid.New(), nextMonday)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestAvailableSlotsPastDateIsNotRejected(t *testing.T) {
	f := newFixture(t)
	lastMonday := today.AddDate(0, 0, -7)

	open, err := f.svc.AvailableSlots(context.Background(), f.provider.ID, lastMonday)
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestWeeklySlotsCacheHitAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.WithCache(redisclient.NewAvailabilityCache(rdb, time.Minute))

	got, err := f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// a write that bypasses the service is not seen while cached
	require.NoError(t, f.repo.ReplaceWeeklySlots(ctx, f.provider.ID, schedule.Monday, schedule.SlotList{"12:00"}))
	got, err = f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = f.svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Monday, []string{"13:00", "14:00"})
	require.NoError(t, err)
	got, err = f.svc.GetWeeklySlots(ctx, f.provider.ID, schedule.Monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"13:00", "14:00"}, got.Strings())
}

func TestWeeklySlotsCacheDownFallsBackToStorage(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.WithCache(redisclient.NewAvailabilityCache(rdb, time.Minute))
	mr.Close()

	got, err := f.svc.AvailableSlots(context.Background(), f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

// pausedTemplateRepo holds the first weekday read after it has loaded from
// storage, so a writer can slip in before the reader fills the cache.
type pausedTemplateRepo struct {
	*memRepository
	once   sync.Once
	loaded chan struct{}
	resume chan struct{}
}

func (r *pausedTemplateRepo) GetWeeklySlots(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, error) {
	slots, err := r.memRepository.GetWeeklySlots(ctx, providerID, day)
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.loaded)
		<-r.resume
	}
	return slots, err
}

func newCachedService(t *testing.T, f *fixture, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewService(repo, nil, testConfig()).
		WithLogger(f.svc.logger).
		WithClock(f.clock.Now).
		WithCache(redisclient.NewAvailabilityCache(rdb, time.Minute))
}

func TestWeeklySlotsFillRacingUpdateIsNotServed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &pausedTemplateRepo{
		memRepository: f.repo,
		loaded:        make(chan struct{}),
		resume:        make(chan struct{}),
	}
	svc := newCachedService(t, f, repo)

	type result struct {
		slots schedule.SlotList
		err   error
	}
	done := make(chan result, 1)
	go func() {
		slots, err := svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
		done <- result{slots, err}
	}()

	<-repo.loaded
	_, err := svc.SetWeeklySlots(ctx, f.provider.ID, schedule.Monday, []string{"15:00"})
	require.NoError(t, err)
	close(repo.resume)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, first.slots.Strings(), "the racing read sees what it loaded")

	got, err := svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, []string{"15:00"}, got.Strings())

	_, err = svc.Book(ctx, BookingRequest{
		ProviderID: f.provider.ID, PatientID: f.patient.ID, Date: nextMonday, Time: "09:00", Type: ConsultationVideo,
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookChecksStorageNotCachedTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newCachedService(t, f, f.repo)

	got, err := svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// the cache still lists 09:00 after this write
	require.NoError(t, f.repo.ReplaceWeeklySlots(ctx, f.provider.ID, schedule.Monday, schedule.SlotList{"12:00"}))
	got, err = svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	require.True(t, got.Contains("09:00"))

	_, err = svc.Book(ctx, BookingRequest{
		ProviderID: f.provider.ID, PatientID: f.patient.ID, Date: nextMonday, Time: "09:00", Type: ConsultationVideo,
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	appt, err := svc.Book(ctx, BookingRequest{
		ProviderID: f.provider.ID, PatientID: f.patient.ID, Date: nextMonday, Time: "12:00", Type: ConsultationChat,
	})
	require.NoError(t, err)
	assert.Equal(t, schedule.SlotLabel("12:00"), appt.Time)
}
