// Package metrics holds the Prometheus instruments for the webhook pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline counters. Every method is safe on a nil receiver
// so components can be constructed without instrumentation in tests.
//
// Metrics:
//   - webhook_events_total{kind,status} - webhook deliveries by classified kind and outcome
//   - webhook_ledger_unavailable_total - claims that failed open because the ledger errored
//   - webhook_persistence_failures_total{kind} - handler failures acknowledged anyway
//   - broadcast_published_total{event,result} - realtime publishes by event name
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal         *prometheus.CounterVec
	LedgerUnavailable   prometheus.Counter
	PersistenceFailures *prometheus.CounterVec
	BroadcastsTotal     *prometheus.CounterVec
}

// New creates a registry with the pipeline counters and the Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Webhook deliveries by classified kind and outcome",
			},
			[]string{"kind", "status"},
		),
		LedgerUnavailable: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_ledger_unavailable_total",
				Help: "Idempotency claims that failed open because the ledger store errored",
			},
		),
		PersistenceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_persistence_failures_total",
				Help: "Persistence handler failures acknowledged to the provider anyway",
			},
			[]string{"kind"},
		),
		BroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcast_published_total",
				Help: "Realtime broadcast publishes by event name and result",
			},
			[]string{"event", "result"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvent(kind, status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveLedgerUnavailable() {
	if m == nil {
		return
	}
	m.LedgerUnavailable.Inc()
}

func (m *Metrics) ObservePersistenceFailure(kind string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveBroadcast(event, result string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event, result).Inc()
}
