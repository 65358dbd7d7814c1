package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/internal/events"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "event-relay", "env", cfg.Env)

	if cfg.EventsQueueURL == "" {
		logger.Error("EVENTS_QUEUE_URL is required")
		os.Exit(1)
	}
	logger.Info("event-relay starting up", "queue_url", cfg.EventsQueueURL, "interval", cfg.RelayInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	awsCfg, err := events.LoadAWSConfig(rootCtx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		logger.Error("aws config error", "error", err)
		os.Exit(1)
	}
	publisher := events.NewSQSPublisher(events.NewSQSClient(awsCfg, cfg.AWSEndpointOverride), cfg.EventsQueueURL)

	relay := events.NewRelay(events.NewStore(pgPool), publisher, cfg.OutboxBatchSize, logger)
	relay.Start(rootCtx, cfg.RelayInterval)
}
