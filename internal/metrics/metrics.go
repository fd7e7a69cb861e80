// Package metrics exposes governance counters for Prometheus scraping via
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the governance metrics.
type Collector struct {
	decisions      *prometheus.CounterVec
	breakerTrips   prometheus.Counter
	breakersOpen   prometheus.Gauge
	ledgerAppends  prometheus.Counter
	ledgerFailures prometheus.Counter
	queueDepth     prometheus.Gauge
	workCompleted  prometheus.Counter
	workFailed     prometheus.Counter
}

// NewCollector creates and registers the governance metrics.
func NewCollector() *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Policy decisions by verdict",
		}, []string{"decision"}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		}),
		breakersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_breakers_open",
			Help: "Current number of open circuit breakers",
		}),
		ledgerAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_appends_total",
			Help: "Total activity records appended to the ledger",
		}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_ledger_failures_total",
			Help: "Total ledger append failures",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_queue_depth",
			Help: "Current number of queued work items",
		}),
		workCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_work_items_completed_total",
			Help: "Total work items completed successfully",
		}),
		workFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_work_items_failed_total",
			Help: "Total work items that failed",
		}),
	}

	prometheus.MustRegister(c.decisions)
	prometheus.MustRegister(c.breakerTrips)
	prometheus.MustRegister(c.breakersOpen)
	prometheus.MustRegister(c.ledgerAppends)
	prometheus.MustRegister(c.ledgerFailures)
	prometheus.MustRegister(c.queueDepth)
	prometheus.MustRegister(c.workCompleted)
	prometheus.MustRegister(c.workFailed)

	return c
}

func (c *Collector) RecordDecision(decision string) {
	c.decisions.WithLabelValues(decision).Inc()
}

func (c *Collector) RecordBreakerTrip() {
	c.breakerTrips.Inc()
}

func (c *Collector) SetBreakersOpen(n int) {
	c.breakersOpen.Set(float64(n))
}

func (c *Collector) RecordLedgerAppend() {
	c.ledgerAppends.Inc()
}

func (c *Collector) RecordLedgerFailure() {
	c.ledgerFailures.Inc()
}

func (c *Collector) SetQueueDepth(n int64) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) RecordWorkCompleted() {
	c.workCompleted.Inc()
}

func (c *Collector) RecordWorkFailed() {
	c.workFailed.Inc()
}
