package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hackgods/telederm-scheduling/internal/api"
	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/config"
	"github.com/hackgods/telederm-scheduling/internal/db"
	"github.com/hackgods/telederm-scheduling/internal/observability/metrics"
	"github.com/hackgods/telederm-scheduling/internal/payment"
	redisclient "github.com/hackgods/telederm-scheduling/internal/redis"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "version", version)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Redis is optional: without it bookings skip the advisory lock and
	// templates are read straight from Postgres.
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without lock and cache", "error", err)
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedulingMetrics := metrics.NewSchedulingMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	bridge, err := newBridge(cfg)
	if err != nil {
		logger.Error("payment bridge error", "error", err)
		os.Exit(1)
	}
	logger.Info("payment bridge ready", "provider", cfg.PaymentProvider)

	repo := appointment.NewPgRepository(pgPool)

	var locker redisclient.Locker
	if rdb != nil {
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	}
	svc := appointment.NewService(repo, locker, cfg).
		WithBridge(bridge).
		WithMetrics(schedulingMetrics).
		WithLogger(logger)
	if rdb != nil {
		svc = svc.WithCache(redisclient.NewAvailabilityCache(rdb, cfg.AvailabilityCacheTTL))
	}

	checks := []api.Check{{Name: "postgres", Critical: true, Ping: db.Pinger(pgPool)}}
	if rdb != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: redisclient.Pinger(rdb)})
	}

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Health:        api.NewHealthHandler(cfg.Env, version, checks...),
		Logger:        logger,
		Metrics:       httpMetrics,
		Gatherer:      registry,
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.PaymentWebhookSecret,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("api-server stopped")
}

func newBridge(cfg config.Config) (payment.Bridge, error) {
	switch cfg.PaymentProvider {
	case "razorpay":
		return payment.NewRazorpayBridge(cfg.RazorpayKeyID, cfg.RazorpayKeySecret), nil
	case "fake", "":
		return payment.NewFakeBridge(), nil
	default:
		return nil, errors.New("unsupported payment provider " + cfg.PaymentProvider)
	}
}
