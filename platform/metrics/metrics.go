// Package metrics exposes Prometheus collectors for the follow-up engine.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "followup"

// Metrics groups the collectors shared by the scheduler, dispatcher and webhook pipeline.
type Metrics struct {
	registry *prometheus.Registry

	SchedulerRuns     *prometheus.CounterVec
	SchedulerDuration prometheus.Histogram
	OrdersProcessed   *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	Escalations       prometheus.Counter
	Callbacks         *prometheus.CounterVec
	StaleAttempts     prometheus.Counter
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler batch runs by outcome (completed, skipped).",
		}, []string{"outcome"}),
		SchedulerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_run_duration_seconds",
			Help:      "Duration of completed scheduler batch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Orders evaluated by the decision engine, by outcome.",
		}, []string{"outcome"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Outbound follow-up attempts by channel and status.",
		}, []string{"channel", "status"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation records created.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Inbound channel callbacks by provider, channel, status and match result.",
		}, []string{"provider", "channel", "status", "matched"}),
		StaleAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_attempts_failed_total",
			Help:      "PENDING attempts marked FAILED by the stale sweep.",
		}),
	}

	reg.MustRegister(
		m.SchedulerRuns,
		m.SchedulerDuration,
		m.OrdersProcessed,
		m.Dispatches,
		m.Escalations,
		m.Callbacks,
		m.StaleAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The helpers below tolerate a nil *Metrics so components can run without instrumentation.

// RunSkipped counts a scheduler trigger that found a run already in flight.
func (m *Metrics) RunSkipped() {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues("skipped").Inc()
}

// RunCompleted counts a finished scheduler run and records its duration.
func (m *Metrics) RunCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues("completed").Inc()
	m.SchedulerDuration.Observe(seconds)
}

// OrderProcessed counts one decision-engine outcome.
func (m *Metrics) OrderProcessed(outcome string) {
	if m == nil {
		return
	}
	m.OrdersProcessed.WithLabelValues(outcome).Inc()
}

// Dispatched counts one outbound attempt.
func (m *Metrics) Dispatched(channel, status string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(channel, status).Inc()
}

// EscalationCreated counts one escalation record.
func (m *Metrics) EscalationCreated() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

// CallbackReceived counts one normalized inbound callback.
func (m *Metrics) CallbackReceived(provider, channel, status string, matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.Callbacks.WithLabelValues(provider, channel, status, label).Inc()
}

// StaleAttemptsFailed counts attempts closed by the stale sweep.
func (m *Metrics) StaleAttemptsFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleAttempts.Add(float64(n))
}
