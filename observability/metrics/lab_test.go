package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLabRegistryIsSingleton(t *testing.T) {
	require.Same(t, Lab(), Lab())
}

func TestObserveUnitNormalisesLabels(t *testing.T) {
	m := Lab()
	before := testutil.ToFloat64(m.UnitsCollector().WithLabelValues("committed"))
	m.ObserveUnit(" Committed ")
	after := testutil.ToFloat64(m.UnitsCollector().WithLabelValues("committed"))
	require.Equal(t, before+1, after)

	unknown := testutil.ToFloat64(m.BorrowsCollector().WithLabelValues("unknown"))
	m.ObserveBorrow("")
	require.Equal(t, unknown+1, testutil.ToFloat64(m.BorrowsCollector().WithLabelValues("unknown")))
}

func TestNilRegistryIsSafe(t *testing.T) {
	var m *LabMetrics
	m.ObserveUnit("committed")
	m.ObserveSwap("A")
	m.ObserveFlashLoan("repaid")
	m.ObserveBorrow("ok")
	m.ObserveOracleRead("spot")
}

func gatheredCounter(t *testing.T, reg *prometheus.Registry, family, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		require.Equal(t, dto.MetricType_COUNTER, mf.GetType())
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if pair.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func collectedSum(t *testing.T, reader sdkmetric.Reader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestObservationsReachBothPipelines(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := NewLabMetrics(reg, provider.Meter(meterName))
	m.ObserveBorrow("OK")
	m.ObserveBorrow("ok")
	m.ObserveBorrow("rejected")
	m.ObserveUnit("committed")
	m.ObserveSwap("A")
	m.ObserveFlashLoan("repaid")
	m.ObserveOracleRead("twap")

	require.Equal(t, float64(2), gatheredCounter(t, reg, "defilab_lending_borrows_total", "ok"))
	require.Equal(t, float64(1), gatheredCounter(t, reg, "defilab_lending_borrows_total", "rejected"))
	require.Equal(t, float64(1), gatheredCounter(t, reg, "defilab_amm_swaps_total", "a"))

	require.Equal(t, int64(2), collectedSum(t, reader, "defilab.lending.borrows", "outcome", "ok"))
	require.Equal(t, int64(1), collectedSum(t, reader, "defilab.state.units", "status", "committed"))
	require.Equal(t, int64(1), collectedSum(t, reader, "defilab.amm.swaps", "asset_in", "a"))
	require.Equal(t, int64(1), collectedSum(t, reader, "defilab.flash.loans", "outcome", "repaid"))
	require.Equal(t, int64(1), collectedSum(t, reader, "defilab.oracle.reads", "source", "twap"))
}

func TestNilMeterFallsBackToNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLabMetrics(reg, nil)
	m.ObserveUnit("rolled_back")
	require.Equal(t, float64(1), gatheredCounter(t, reg, "defilab_state_units_total", "rolled_back"))
}
