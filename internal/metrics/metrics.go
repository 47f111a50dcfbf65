// Package metrics holds the Prometheus collectors of the relay.
//
// All recording methods are safe on a nil *Metrics so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifyrelay"

// Metrics is the set of relay collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ingested           *prometheus.CounterVec
	attempts           *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	finalized          *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	queueErrors        *prometheus.CounterVec
	observers          prometheus.Gauge
	observerEvictions  prometheus.Counter
	historyPruned      prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_ingested_total",
			Help:      "Notifications accepted by the ingestion endpoint.",
		}, []string{"type"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by target and outcome kind.",
		}, []string{"target", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Latency of single provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"target"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_finalized_total",
			Help:      "Notifications that reached a terminal status.",
		}, []string{"status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"target", "from", "to"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending entries in the notification queue, sampled periodically.",
		}),
		queueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_errors_total",
			Help:      "Queue operation failures by operation.",
		}, []string{"op"}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Currently subscribed live observers.",
		}),
		observerEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_evictions_total",
			Help:      "Observers dropped for not keeping up.",
		}),
		historyPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pruned_total",
			Help:      "Terminal history rows removed by retention.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingested,
		m.attempts,
		m.attemptDuration,
		m.finalized,
		m.breakerState,
		m.breakerTransitions,
		m.queueDepth,
		m.queueErrors,
		m.observers,
		m.observerEvictions,
		m.historyPruned,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NotificationIngested counts an accepted notification.
func (m *Metrics) NotificationIngested(notificationType string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(notificationType).Inc()
}

// DeliveryAttempt records one provider call.
func (m *Metrics) DeliveryAttempt(target, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(target, outcome).Inc()
	m.attemptDuration.WithLabelValues(target).Observe(took.Seconds())
}

// BreakerShortCircuit records a call refused by an open breaker.
func (m *Metrics) BreakerShortCircuit(target string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(target, "breaker_open").Inc()
}

// NotificationFinalized counts a notification reaching status.
func (m *Metrics) NotificationFinalized(status string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(status).Inc()
}

// BreakerTransition records a breaker state change. state is the numeric
// value of the new state.
func (m *Metrics) BreakerTransition(target, from, to string, state int) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(target, from, to).Inc()
	m.breakerState.WithLabelValues(target).Set(float64(state))
}

// SetBreakerState sets the current numeric state of a breaker.
func (m *Metrics) SetBreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(float64(state))
}

// SetQueueDepth stores the latest queue length sample.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// QueueError counts a failed queue operation.
func (m *Metrics) QueueError(op string) {
	if m == nil {
		return
	}
	m.queueErrors.WithLabelValues(op).Inc()
}

// SetObservers stores the current observer count.
func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}

// ObserverEvicted counts a dropped slow observer.
func (m *Metrics) ObserverEvicted() {
	if m == nil {
		return
	}
	m.observerEvictions.Inc()
}

// HistoryPruned counts rows removed by retention.
func (m *Metrics) HistoryPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.historyPruned.Add(float64(n))
}
