package prometrics

import (
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
	gauges     map[observability.MetricKey]observability.Gauge
}

// Register creates every application metric on r and returns them as an
// observability.Metrics. Unknown keys resolve to no-op instruments.
func Register(r Registry) observability.Metrics {
	ext := []string{"peer", "endpoint", "outcome"}
	return &instruments{
		counters: map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests:        r.Counter(string(observability.MUsecaseRequests), "Use case executions by outcome.", "use_case", "outcome"),
			observability.MHTTPRequests:           r.Counter(string(observability.MHTTPRequests), "HTTP requests served.", "method", "route", "status"),
			observability.MExternalRequests:       r.Counter(string(observability.MExternalRequests), "Calls to external dependencies.", ext...),
			observability.MCompensationFailures:   r.Counter(string(observability.MCompensationFailures), "Compensation steps that could not be applied.", "resource"),
			observability.MReconciliationOutcomes: r.Counter(string(observability.MReconciliationOutcomes), "Reconciliation results per payment.", "outcome"),
			observability.MEventsPublished:        r.Counter(string(observability.MEventsPublished), "Events accepted by the event bus.", "event"),
		},
		histograms: map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration:         r.Histogram(string(observability.MUsecaseDuration), "Use case latency.", latencyBuckets, "use_case", "outcome"),
			observability.MHTTPRequestDuration:     r.Histogram(string(observability.MHTTPRequestDuration), "HTTP request latency.", latencyBuckets, "method", "route", "status"),
			observability.MExternalRequestDuration: r.Histogram(string(observability.MExternalRequestDuration), "External call latency.", latencyBuckets, ext...),
		},
		gauges: map[observability.MetricKey]observability.Gauge{
			observability.MCircuitBreakerState: r.Gauge(string(observability.MCircuitBreakerState), "Circuit breaker state: 0 closed, 1 half-open, 2 open.", "breaker"),
		},
	}
}

// NewRegistry is a convenience for tests and for the default process
// registry: it builds a Registry on reg and registers the catalog.
func NewRegistry(reg prometheus.Registerer) observability.Metrics {
	return Register(New(reg, "", ""))
}

func (m *instruments) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopMetrics().Counter(name)
}

func (m *instruments) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopMetrics().Histogram(name)
}

func (m *instruments) Gauge(name observability.MetricKey) observability.Gauge {
	if g, ok := m.gauges[name]; ok {
		return g
	}
	return observability.NopMetrics().Gauge(name)
}
