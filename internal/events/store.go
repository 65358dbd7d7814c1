// Package events relays the append-only event_logs table to downstream
// consumers. Rows are written by the scheduling service in the same database;
// a relay picks up unpublished rows in id order and marks them once sent.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one event_logs row.
type Record struct {
	ID            int64
	EventType     string
	AppointmentID string // empty for provider level events
	Payload       json.RawMessage
	CreatedAt     time.Time
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("events: pgx pool cannot be nil")
	}
	return &Store{db: pool}
}

// FetchUnpublished returns up to limit unpublished rows, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT id, event_type, COALESCE(appointment_id::text, ''), COALESCE(payload, '{}'::jsonb), created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch unpublished: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload []byte
		)
		if err := rows.Scan(&r.ID, &r.EventType, &r.AppointmentID, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan event: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate events: %w", err)
	}
	return out, nil
}

// MarkPublished stamps published_at on the given ids.
func (s *Store) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE event_logs SET published_at = $2 WHERE id = ANY($1) AND published_at IS NULL`
	if _, err := s.db.Exec(ctx, q, ids, at); err != nil {
		return fmt.Errorf("events: mark published: %w", err)
	}
	return nil
}
