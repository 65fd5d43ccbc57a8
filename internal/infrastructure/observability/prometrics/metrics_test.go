package prometrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
)

func TestRegisterCatalog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.Counter(observability.MCompensationFailures).Add(1, observability.L("resource", "stock"))
	m.Counter(observability.MCompensationFailures).Bind(observability.L("resource", "stock")).Add(2)
	m.Gauge(observability.MCircuitBreakerState).Set(2, observability.L("breaker", "pg"))
	m.Histogram(observability.MUsecaseDuration).Observe(0.2,
		observability.L("use_case", "place_order"), observability.L("outcome", "success"))

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				byName[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				byName[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				byName[f.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 3.0, byName["compensation_failures_total"])
	assert.Equal(t, 2.0, byName["circuit_breaker_state"])
	assert.Equal(t, 1.0, byName["usecase_duration_seconds"])

	// Unknown keys never panic.
	m.Counter("unknown_total").Add(1)
}

func TestCounterRegisteredOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "", "")

	a := r.Counter("dup_total", "dup", "k")
	b := r.Counter("dup_total", "dup", "k")
	a.Add(1, observability.L("k", "v"))
	b.Add(1, observability.L("k", "v"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue())
}
