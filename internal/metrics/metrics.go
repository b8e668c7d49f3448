// ABOUTME: Prometheus collectors for queueing, delivery and remote agent-service calls
// ABOUTME: All methods are nil-safe so components can run without a metrics registry

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fixie"

// Metrics groups the collectors reported by the bridge.
type Metrics struct {
	queueDepth       prometheus.Gauge
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	remoteCalls      *prometheus.CounterVec
	remoteRetries    *prometheus.CounterVec
	provisioning     *prometheus.CounterVec
	maintenance      prometheus.Gauge
}

// MustNew constructs Metrics and registers every collector with reg.
// A nil registerer falls back to the global default registry. Registration
// errors panic, which surfaces duplicate wiring at startup.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_messages",
			Help:      "Messages waiting in per-user queues.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Messages taken off a queue, by outcome.",
		}, []string{"outcome"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Time from dequeue until the reply was routed to the user.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memgpt",
			Name:      "calls_total",
			Help:      "Calls made to the agent service, by path and result.",
		}, []string{"method", "result"}),
		remoteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memgpt",
			Name:      "retries_total",
			Help:      "Attempts repeated after a transient agent-service failure.",
		}, []string{"method"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "agents_total",
			Help:      "Provisioned agents, by aggregate source-attachment outcome.",
		}, []string{"outcome"}),
		maintenance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance_mode",
			Help:      "1 while the agent service is unreachable and the bot is in maintenance mode.",
		}),
	}

	reg.MustRegister(
		m.queueDepth,
		m.deliveries,
		m.deliveryDuration,
		m.remoteCalls,
		m.remoteRetries,
		m.provisioning,
		m.maintenance,
	)
	return m
}

// SetQueueDepth records the total number of pending messages.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveDelivery records one dequeued message and how long it took to handle.
func (m *Metrics) ObserveDelivery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.deliveryDuration.Observe(d.Seconds())
}

// ObserveCall records the final result of a remote call after retries.
func (m *Metrics) ObserveCall(method, result string) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(method, result).Inc()
}

// IncRetry records a retried remote call attempt.
func (m *Metrics) IncRetry(method string) {
	if m == nil {
		return
	}
	m.remoteRetries.WithLabelValues(method).Inc()
}

// ObserveProvisioning records the outcome of an agent provisioning run.
func (m *Metrics) ObserveProvisioning(outcome string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(outcome).Inc()
}

// SetMaintenance flips the maintenance gauge.
func (m *Metrics) SetMaintenance(on bool) {
	if m == nil {
		return
	}
	if on {
		m.maintenance.Set(1)
		return
	}
	m.maintenance.Set(0)
}
