package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/telederm-scheduling/internal/schedule"
)

// AvailabilityCache keeps weekly slot templates in Redis as JSON arrays.
// Booked slots are never cached, only the template.
//
// Entries are keyed by a per-day generation. Invalidate bumps the
// generation, so a reader that loaded the old template before an edit
// writes it under a key nobody reads any more.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func generationKey(providerID uuid.UUID, day schedule.Weekday) string {
	return fmt.Sprintf("availability:gen:%s:%d", providerID.String(), int(day))
}

func availabilityKey(providerID uuid.UUID, day schedule.Weekday, generation int64) string {
	return fmt.Sprintf("availability:%s:%d:%d", providerID.String(), int(day), generation)
}

func (c *AvailabilityCache) generation(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(providerID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cache generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached template and the generation it was read at. The
// generation must be passed back to Set when filling a miss.
func (c *AvailabilityCache) Get(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) (schedule.SlotList, int64, bool, error) {
	gen, err := c.generation(ctx, providerID, day)
	if err != nil {
		return nil, 0, false, err
	}

	raw, err := c.client.Get(ctx, availabilityKey(providerID, day, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("get cached slots: %w", err)
	}

	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, gen, false, fmt.Errorf("decode cached slots: %w", err)
	}
	slots, err := schedule.NewSlotList(labels)
	if err != nil {
		return nil, gen, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, gen, true, nil
}

// Set stores slots under generation. A generation that has since been
// bumped leaves the entry unreachable until it expires.
func (c *AvailabilityCache) Set(ctx context.Context, providerID uuid.UUID, day schedule.Weekday, generation int64, slots schedule.SlotList) error {
	labels := slots.Strings()
	if labels == nil {
		labels = []string{}
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey(providerID, day, generation), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached slots: %w", err)
	}
	return nil
}

// Invalidate moves the day to a new generation and drops the current entry.
func (c *AvailabilityCache) Invalidate(ctx context.Context, providerID uuid.UUID, day schedule.Weekday) error {
	gen, err := c.client.Incr(ctx, generationKey(providerID, day)).Result()
	if err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	if err := c.client.Del(ctx, availabilityKey(providerID, day, gen-1)).Err(); err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	return nil
}
