package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics exposes counters/gauges/histograms for the
// availability engine and the expiry sweeper.
type ReservationMetrics struct {
	reserveTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	sweepExpired     prometheus.Counter
	sweepDuration    prometheus.Histogram
	calendarEntries  *prometheus.GaugeVec
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		reserveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwell",
			Subsystem: "reservations",
			Name:      "reserve_total",
			Help:      "Total reserve attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwell",
			Subsystem: "reservations",
			Name:      "transitions_total",
			Help:      "Total committed status transitions",
		}, []string{"to"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookwell",
			Subsystem: "reservations",
			Name:      "sweep_expired_total",
			Help:      "Total holds retired by the expiry sweeper",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookwell",
			Subsystem: "reservations",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweep passes",
			Buckets:   prometheus.DefBuckets,
		}),
		calendarEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bookwell",
			Subsystem: "reservations",
			Name:      "calendar_entries",
			Help:      "Live calendar entries per resource",
		}, []string{"tenant_id", "resource_id"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reserveTotal, m.transitionsTotal, m.sweepExpired, m.sweepDuration, m.calendarEntries)
	return m
}

func (m *ReservationMetrics) ObserveReserve(outcome string) {
	if m == nil {
		return
	}
	m.reserveTotal.WithLabelValues(outcome).Inc()
}

func (m *ReservationMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

func (m *ReservationMetrics) ObserveSweep(expired int, seconds float64) {
	if m == nil {
		return
	}
	m.sweepExpired.Add(float64(expired))
	m.sweepDuration.Observe(seconds)
}

func (m *ReservationMetrics) SetCalendarEntries(tenantID, resourceID string, n int) {
	if m == nil {
		return
	}
	m.calendarEntries.WithLabelValues(tenantID, resourceID).Set(float64(n))
}
