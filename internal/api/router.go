package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/telederm-scheduling/internal/observability/metrics"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

type RouterConfig struct {
	Service       Scheduler
	Health        *HealthHandler
	Logger        *logging.Logger
	Metrics       *metrics.HTTPMetrics
	Gatherer      prometheus.Gatherer // nil serves the default registry
	JWTSecret     string
	WebhookSecret string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Gateway callbacks authenticate by body signature
	r.Post("/payments/callback", paymentCallbackHandler(svc, cfg.WebhookSecret, logger))
	r.Post("/payments/refund-callback", refundCallbackHandler(svc, cfg.WebhookSecret, logger))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Get("/providers/{id}/availability", availabilityHandler(svc, logger))
		r.Get("/providers/{id}/weekly-slots", weeklyTemplateHandler(svc, logger))
		r.Put("/providers/{id}/weekly-slots/{weekday}", setWeeklySlotsHandler(svc, logger))

		r.Post("/appointments", bookAppointmentHandler(svc, logger))
		r.Get("/appointments", listAppointmentsHandler(svc, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(svc, logger))
		r.Post("/appointments/{id}/start", startConsultationHandler(svc, logger))
		r.Post("/appointments/{id}/complete", completeConsultationHandler(svc, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc, logger))
		r.Post("/appointments/{id}/retry-payment", retryPaymentHandler(svc, logger))
	})

	return r
}
