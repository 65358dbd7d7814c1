package events

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

type outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Relay moves unpublished events to a Publisher. Delivery is at least once:
// a crash between publish and mark resends the batch tail.
type Relay struct {
	store     outbox
	publisher Publisher
	batchSize int
	logger    *logging.Logger
	now       func() time.Time
}

func NewRelay(store outbox, publisher Publisher, batchSize int, logger *logging.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Drain publishes one batch and returns how many events were sent. It stops
// at the first publish failure so events leave in id order.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	records, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := make([]int64, 0, len(records))
	var publishErr error
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, EnvelopeFor(rec)); err != nil {
			publishErr = fmt.Errorf("publish event %d: %w", rec.ID, err)
			break
		}
		sent = append(sent, rec.ID)
	}

	if err := r.store.MarkPublished(ctx, sent, r.now()); err != nil {
		return 0, err
	}
	return len(sent), publishErr
}

// Start drains every interval until ctx is cancelled. A full batch is
// followed immediately by another drain.
func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("event relay drain failed", "sent", n, "error", err)
				}
				break
			}
			if n > 0 {
				r.logger.Info("relayed events", "count", n)
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopped")
			return
		case <-ticker.C:
		}
	}
}
