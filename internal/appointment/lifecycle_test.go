package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telederm-scheduling/internal/payment"
)

func TestStartRequiresPayment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, today, "09:00")

	_, err := f.svc.StartConsultation(context.Background(), appt.ID, f.patient.ID)
	require.ErrorIs(t, err, ErrPaymentRequired)
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.pay(t, appt.ID)
	started, err := f.svc.StartConsultation(context.Background(), appt.ID, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
}

func TestStartAndCompleteAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, today, "09:00")
	f.pay(t, appt.ID)

	_, err := f.svc.StartConsultation(ctx, appt.ID, f.other.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.CompleteConsultation(ctx, appt.ID, f.provider.ID, "", "")
	require.ErrorIs(t, err, ErrInvalidTransition, "not started yet")

	_, err = f.svc.StartConsultation(ctx, appt.ID, f.provider.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteConsultation(ctx, appt.ID, f.patient.ID, "", "")
	require.ErrorIs(t, err, ErrUnauthorized, "only the provider completes")

	done, err := f.svc.CompleteConsultation(ctx, appt.ID, f.provider.ID, "mild eczema", "hydrocortisone 1% twice daily")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Notes)
	require.NotNil(t, done.Prescription)
	assert.Equal(t, "hydrocortisone 1% twice daily", *done.Prescription)

	_, err = f.svc.CompleteConsultation(ctx, appt.ID, f.provider.ID, "", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{
		EventAppointmentBooked, EventPaymentIntentCreated, EventPaymentConfirmed,
		EventAppointmentStarted, EventAppointmentCompleted,
	}, f.repo.eventTypes(appt.ID))
}

func TestStartCancelledAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	_, err := f.svc.Cancel(context.Background(), appt.ID, f.provider.ID, "emergency")
	require.NoError(t, err)

	_, err = f.svc.StartConsultation(context.Background(), appt.ID, f.patient.ID)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancelOutsideFeeWindow(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, f.patient.ID, "schedule clash")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.LateCancellation)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, f.patient.ID, *cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "schedule clash", *cancelled.CancellationReason)
	assert.Zero(t, f.repo.countEvents(EventAppointmentLateCancelled))
}

func TestCancelInsideFeeWindowIsLate(t *testing.T) {
	f := newFixture(t)
	// 10:00 Kolkata is 90 minutes away, inside the 2h window
	appt := f.book(t, f.patient.ID, today, "10:00")

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, f.provider.ID, "")
	require.NoError(t, err)
	assert.True(t, cancelled.LateCancellation)
	assert.Equal(t, f.provider.ID, *cancelled.CancelledBy)
	assert.Nil(t, cancelled.CancellationReason)
	assert.Contains(t, f.repo.eventTypes(appt.ID), EventAppointmentLateCancelled)
}

func TestCancelExactlyAtWindowEdgeIsLate(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, today, "11:00")
	// 09:00 Kolkata, exactly two hours before start
	f.clock.Advance(30 * time.Minute)

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, f.patient.ID, "")
	require.NoError(t, err)
	assert.True(t, cancelled.LateCancellation)
}

func TestCancelRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	_, err := f.svc.Cancel(ctx, appt.ID, f.other.ID, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Cancel(ctx, uuid.New(), f.patient.ID, "")
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "")
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelInProgressIsRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, today, "09:00")
	f.pay(t, appt.ID)
	_, err := f.svc.StartConsultation(context.Background(), appt.ID, f.patient.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), appt.ID, f.patient.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelCompletedAlwaysFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, today, "09:00")
	f.pay(t, appt.ID)
	_, err := f.svc.StartConsultation(ctx, appt.ID, f.provider.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteConsultation(ctx, appt.ID, f.provider.ID, "", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Advance(3 * time.Hour)
	_, err = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "")
	require.ErrorIs(t, err, ErrPastAppointment)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelYesterdayScheduledIsAllowedAndLate(t *testing.T) {
	f := newFixture(t)
	yesterday := today.AddDate(0, 0, -1)
	stale := Appointment{
		ID: uuid.New(), ProviderID: f.provider.ID, PatientID: f.patient.ID,
		Date: yesterday, Time: "09:00", Type: ConsultationVideo,
		Status: StatusScheduled, Urgency: UrgencyLow, PaymentStatus: PaymentPending,
		Amount: 800, Currency: "INR", ConsultationRoomID: newRoomID(),
	}
	f.repo.putAppointment(stale)

	cancelled, err := f.svc.Cancel(context.Background(), stale.ID, f.patient.ID, "missed")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.LateCancellation)

	done := stale
	done.ID = uuid.New()
	done.Time = "10:00"
	done.Status = StatusCompleted
	done.PaymentStatus = PaymentCompleted
	done.ConsultationRoomID = newRoomID()
	f.repo.putAppointment(done)

	_, err = f.svc.Cancel(context.Background(), done.ID, f.patient.ID, "")
	require.ErrorIs(t, err, ErrPastAppointment)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentCancelOneWins(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for _, actor := range []uuid.UUID{f.patient.ID, f.provider.ID, f.patient.ID, f.provider.ID} {
		wg.Add(1)
		go func(actor uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Cancel(context.Background(), appt.ID, actor, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyCancelled):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, already)
	assert.Equal(t, 1, f.repo.countEvents(EventAppointmentCancelled))
}

func TestCancelRacingPaymentConfirmation(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		ctx := context.Background()
		appt := f.book(t, f.patient.ID, nextMonday, "09:00")

		var wg sync.WaitGroup
		var cancelErr, payErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = f.svc.Cancel(ctx, appt.ID, f.patient.ID, "changed plans")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, payErr = f.svc.OnPaymentConfirmed(ctx, appt.ID, "pay_race")
		}()
		close(start)
		wg.Wait()

		require.NoError(t, cancelErr, "cancel wins either way")
		stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stored.Status)
		assert.Equal(t, 1, f.repo.countEvents(EventAppointmentCancelled))

		if payErr != nil {
			// cancellation landed first
			require.ErrorIs(t, payErr, ErrAlreadyCancelled)
			assert.Equal(t, PaymentPending, stored.PaymentStatus)
			assert.Nil(t, stored.PaymentID)
			assert.Zero(t, f.repo.countEvents(EventPaymentConfirmed))
			continue
		}
		assert.Equal(t, PaymentCompleted, stored.PaymentStatus)
		require.NotNil(t, stored.PaymentID)
		assert.Equal(t, "pay_race", *stored.PaymentID)
		assert.Equal(t, 1, f.repo.countEvents(EventPaymentConfirmed))
	}
}

func TestPaymentConfirmedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	paid, err := f.svc.OnPaymentConfirmed(ctx, appt.ID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentID)
	assert.Equal(t, "pay_001", *paid.PaymentID)

	again, err := f.svc.OnPaymentConfirmed(ctx, appt.ID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, paid.Version, again.Version, "replay writes nothing")
	assert.Equal(t, 1, f.repo.countEvents(EventPaymentConfirmed))

	_, err = f.svc.OnPaymentConfirmed(ctx, appt.ID, "pay_002")
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestPaymentConfirmedMismatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OnPaymentConfirmed(ctx, uuid.New(), "pay_1")
	require.ErrorIs(t, err, ErrPaymentMismatch)

	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	_, err = f.svc.OnPaymentConfirmed(ctx, appt.ID, "")
	require.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = f.svc.OnPaymentFailed(ctx, appt.ID, "insufficient_funds")
	require.NoError(t, err)
	_, err = f.svc.OnPaymentConfirmed(ctx, appt.ID, "pay_1")
	require.ErrorIs(t, err, ErrPaymentMismatch, "failed intent must be retried first")
}

func TestPaymentConfirmedAfterCancel(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	_, err := f.svc.Cancel(context.Background(), appt.ID, f.patient.ID, "")
	require.NoError(t, err)

	_, err = f.svc.OnPaymentConfirmed(context.Background(), appt.ID, "pay_1")
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestPaymentFailedKeepsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	failed, err := f.svc.OnPaymentFailed(ctx, appt.ID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, failed.PaymentStatus)
	assert.Equal(t, StatusScheduled, failed.Status)

	_, err = f.svc.OnPaymentFailed(ctx, appt.ID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.countEvents(EventPaymentFailed))

	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.NotContains(t, open.Strings(), "09:00")
}

func TestPaymentFailedAfterCompletion(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	f.pay(t, appt.ID)

	_, err := f.svc.OnPaymentFailed(context.Background(), appt.ID, "late_decline")
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestRetryPaymentAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	firstIntent := *appt.ChargeIntentID
	_, err := f.svc.OnPaymentFailed(ctx, appt.ID, "card_declined")
	require.NoError(t, err)

	_, err = f.svc.RetryPayment(ctx, appt.ID, f.provider.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	retried, err := f.svc.RetryPayment(ctx, appt.ID, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, retried.PaymentStatus)
	require.NotNil(t, retried.ChargeIntentID)
	assert.NotEqual(t, firstIntent, *retried.ChargeIntentID)
	assert.Len(t, f.bridge.Intents(appt.ID), 2)

	paid := f.pay(t, appt.ID)
	assert.Equal(t, PaymentCompleted, paid.PaymentStatus)

	_, err = f.svc.RetryPayment(ctx, appt.ID, f.patient.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRetryPaymentWhileIntentOpenIsNoop(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	same, err := f.svc.RetryPayment(context.Background(), appt.ID, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, *appt.ChargeIntentID, *same.ChargeIntentID)
	assert.Len(t, f.bridge.Intents(appt.ID), 1)
}

func TestRetryPaymentAfterBridgeOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bridge.SetErr(errors.New("timeout"))
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")
	require.Nil(t, appt.ChargeIntentID)

	_, err := f.svc.RetryPayment(ctx, appt.ID, f.patient.ID)
	require.ErrorIs(t, err, payment.ErrGateway)

	f.bridge.SetErr(nil)
	retried, err := f.svc.RetryPayment(ctx, appt.ID, f.patient.ID)
	require.NoError(t, err)
	assert.NotNil(t, retried.ChargeIntentID)
}

func TestRefundCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, nextMonday, "09:00")

	_, err := f.svc.OnRefundCompleted(ctx, appt.ID)
	require.ErrorIs(t, err, ErrInvalidTransition, "nothing was paid")

	f.pay(t, appt.ID)
	refunded, err := f.svc.OnRefundCompleted(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, refunded.PaymentStatus)
	assert.Equal(t, StatusCancelled, refunded.Status)

	again, err := f.svc.OnRefundCompleted(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, refunded.Version, again.Version)

	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Contains(t, open.Strings(), "09:00")

	_, err = f.svc.OnRefundCompleted(ctx, uuid.New())
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestRefundAfterCompletionKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient.ID, today, "09:00")
	f.pay(t, appt.ID)
	_, err := f.svc.StartConsultation(ctx, appt.ID, f.provider.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteConsultation(ctx, appt.ID, f.provider.ID, "", "")
	require.NoError(t, err)

	refunded, err := f.svc.OnRefundCompleted(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, refunded.Status)
	assert.Equal(t, PaymentRefunded, refunded.PaymentStatus)
}

func TestReleaseUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.ReleaseUnpaid(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "disabled without a hold ttl")

	unpaid := f.book(t, f.patient.ID, nextMonday, "09:00")
	failed := f.book(t, f.other.ID, nextMonday, "10:00")
	_, err = f.svc.OnPaymentFailed(ctx, failed.ID, "card_declined")
	require.NoError(t, err)
	paid := f.book(t, f.patient.ID, nextMonday, "11:00")
	f.pay(t, paid.ID)

	f.clock.Advance(time.Hour)
	fresh := f.book(t, f.other.ID, nextMonday.AddDate(0, 0, 7), "09:00")

	n, err = f.svc.ReleaseUnpaid(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{unpaid.ID, failed.ID} {
		got, err := f.repo.GetAppointmentByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Nil(t, got.CancelledBy, "released by the system")
		require.NotNil(t, got.CancellationReason)
		assert.Equal(t, "payment_timeout", *got.CancellationReason)
	}
	for _, id := range []uuid.UUID{paid.ID, fresh.ID} {
		got, err := f.repo.GetAppointmentByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
	}

	open, err := f.svc.AvailableSlots(ctx, f.provider.ID, nextMonday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00"}, open.Strings())

	n, err = f.svc.ReleaseUnpaid(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}
