package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking and lifecycle flows.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	bookingLatency   *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telederm",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telederm",
			Subsystem: "scheduling",
			Name:      "booking_duration_seconds",
			Help:      "Latency of booking attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telederm",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by kind and outcome",
		}, []string{"transition", "outcome"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telederm",
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Payment callbacks by kind and outcome",
		}, []string{"kind", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telederm",
			Subsystem: "scheduling",
			Name:      "availability_cache_lookups_total",
			Help:      "Weekly template cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.transitionsTotal, m.callbacksTotal, m.cacheLookups)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveTransition(transition, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(transition, outcome).Inc()
}

func (m *SchedulingMetrics) ObservePaymentCallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
