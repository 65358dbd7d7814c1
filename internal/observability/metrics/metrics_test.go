package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("ok", 0.02)
	m.ObserveBooking("slot_unavailable", 0.01)
	m.ObserveBooking("slot_unavailable", 0.01)
	m.ObserveTransition("cancel", "ok")
	m.ObservePaymentCallback("confirmed", "payment_mismatch")
	m.ObserveCacheLookup("hit")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.bookingsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_unavailable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("cancel", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.callbacksTotal.WithLabelValues("confirmed", "payment_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("/appointments", "POST", 201, 0.05)
	m.ObserveRequest("", "GET", 404, 0.001)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("/appointments", "POST", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("unmatched", "GET", "404")))
}

func TestMetricsNilSafe(t *testing.T) {
	var s *SchedulingMetrics
	s.ObserveBooking("ok", 0.1)
	s.ObserveTransition("start", "ok")
	s.ObservePaymentCallback("failed", "ok")
	s.ObserveCacheLookup("miss")

	var h *HTTPMetrics
	h.ObserveRequest("/health/live", "GET", 200, 0.001)
}
