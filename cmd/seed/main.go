package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telederm-scheduling/internal/api"
	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

var (
	specialties = []string{
		"General Dermatology",
		"Cosmetic Dermatology",
		"Pediatric Dermatology",
		"Trichology",
		"Dermatopathology",
		"Venereology",
	}
	timezones = []string{"Asia/Kolkata", "Asia/Kolkata", "Asia/Kolkata", "Asia/Dubai", "Europe/London"}
	fees      = []int64{50000, 75000, 80000, 100000, 150000}

	morning   = []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	afternoon = []string{"14:00", "14:30", "15:00", "15:30", "16:00"}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providers, err := seedProviders(ctx, pool, cfg.Currency, 20)
	if err != nil {
		logger.Error("seed providers", "error", err)
		os.Exit(1)
	}
	logger.Info("providers seeded", "count", len(providers))

	repo := appointment.NewPgRepository(pool)
	if err := seedTemplates(ctx, repo, providers); err != nil {
		logger.Error("seed availability", "error", err)
		os.Exit(1)
	}
	logger.Info("weekly templates seeded")

	patients, err := seedPatients(ctx, pool, 500)
	if err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	logger.Info("patients seeded", "count", len(patients))

	if cfg.JWTSecret != "" {
		printTokens(cfg.JWTSecret, providers[0], patients[0])
	}

	logger.Info("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, currency string, count int) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, email, specialty, consultation_fee, currency, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		`, id,
			"Dr. "+gofakeit.Name(),
			gofakeit.Email(),
			specialties[gofakeit.Number(0, len(specialties)-1)],
			fees[gofakeit.Number(0, len(fees)-1)],
			currency,
			timezones[gofakeit.Number(0, len(timezones)-1)],
		)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedTemplates gives every provider a weekday template: morning blocks on
// most days, afternoons on some, weekends mostly closed.
func seedTemplates(ctx context.Context, repo *appointment.PgRepository, providers []uuid.UUID) error {
	for _, id := range providers {
		for _, day := range schedule.Week {
			var labels []string
			switch {
			case day == schedule.Sunday:
			case day == schedule.Saturday:
				if gofakeit.Bool() {
					labels = morning[:3]
				}
			default:
				labels = append(labels, morning...)
				if gofakeit.Bool() {
					labels = append(labels, afternoon...)
				}
			}

			slots, err := schedule.NewSlotList(labels)
			if err != nil {
				return err
			}
			if err := repo.ReplaceWeeklySlots(ctx, id, day, slots); err != nil {
				return fmt.Errorf("provider %s %s: %w", id, day, err)
			}
		}
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	const batchSize = 250

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func printTokens(secret string, providerID, patientID uuid.UUID) {
	for _, t := range []struct {
		role string
		id   uuid.UUID
	}{
		{string(appointment.RoleDoctor), providerID},
		{string(appointment.RolePatient), patientID},
		{api.RoleAdmin, uuid.New()},
	} {
		token, err := api.IssueToken(secret, t.id, t.role, 24*time.Hour)
		if err != nil {
			continue
		}
		fmt.Printf("%-8s %s\n         %s\n", t.role, t.id, token)
	}
}
