package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/internal/observability/metrics"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "expiry-worker", "env", cfg.Env)
	logger.Info("expiry-worker starting up", "interval", cfg.WorkerInterval, "hold_ttl", cfg.UnpaidHoldTTL)

	if cfg.UnpaidHoldTTL <= 0 {
		logger.Info("UNPAID_HOLD_TTL is not set, unpaid bookings are kept indefinitely; exiting")
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Releases never book, so the worker runs without the slot lock.
	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, cfg).
		WithMetrics(metrics.NewSchedulingMetrics(nil)).
		WithLogger(logger)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.UnpaidHoldTTL, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.UnpaidHoldTTL, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, holdTTL time.Duration, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ReleaseUnpaid(runCtx, holdTTL)
	if err != nil {
		logger.Error("expiry run error", "error", err, "released", released)
		return
	}
	logger.Info("expiry run complete", "released", released, "elapsed", time.Since(start))
}
