package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "care"

// Collector holds every series the service exports. A nil *Collector is
// valid and records nothing, so components can run without metrics in tests.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	bookingsTotal      *prometheus.CounterVec
	checkoutsTotal     *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	slotConflictsTotal prometheus.Counter
	settlementsTotal   *prometheus.CounterVec
	settleDuration     prometheus.Histogram
	refundsTotal       *prometheus.CounterVec
	outboxDelivered    *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),

		checkoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),

		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Committed lifecycle transitions by entity and target status.",
		}, []string{"entity", "status"}),

		slotConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "conflicts_total",
			Help:      "Reservation attempts that lost the race for a slot.",
		}),

		settlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "settlements_total",
			Help:      "Settlement calls by terminal status.",
		}, []string{"status"}),

		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "settle_duration_seconds",
			Help:      "Time spent waiting for a terminal settlement result.",
			Buckets:   prometheus.DefBuckets,
		}),

		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Reversals by entity and result. Alert on result=failed.",
		}, []string{"entity", "result"}),

		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.bookingsTotal,
		c.checkoutsTotal,
		c.transitionsTotal,
		c.slotConflictsTotal,
		c.settlementsTotal,
		c.settleDuration,
		c.refundsTotal,
		c.outboxDelivered,
	)
	return c
}

func (c *Collector) ObserveRequest(method, route, status string, seconds float64) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, route, status).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (c *Collector) Booking(outcome string) {
	if c == nil {
		return
	}
	c.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Checkout(outcome string) {
	if c == nil {
		return
	}
	c.checkoutsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Transition(entity, status string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(entity, status).Inc()
}

func (c *Collector) SlotConflict() {
	if c == nil {
		return
	}
	c.slotConflictsTotal.Inc()
}

func (c *Collector) Settlement(status string, seconds float64) {
	if c == nil {
		return
	}
	c.settlementsTotal.WithLabelValues(status).Inc()
	c.settleDuration.Observe(seconds)
}

func (c *Collector) Refund(entity, result string) {
	if c == nil {
		return
	}
	c.refundsTotal.WithLabelValues(entity, result).Inc()
}

func (c *Collector) OutboxDelivery(result string) {
	if c == nil {
		return
	}
	c.outboxDelivered.WithLabelValues(result).Inc()
}

// Handler serves the registry the collector was registered with.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
