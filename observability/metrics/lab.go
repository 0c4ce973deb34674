package metrics

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "defilab"

// LabMetrics tracks execution units and the protocol actions they contain.
// Every observation lands on a Prometheus counter and on the matching
// OpenTelemetry instrument, so the OTLP exporter ships the same series.
type LabMetrics struct {
	units       *prometheus.CounterVec
	swaps       *prometheus.CounterVec
	flashLoans  *prometheus.CounterVec
	borrows     *prometheus.CounterVec
	oracleReads *prometheus.CounterVec

	unitCounter       metric.Int64Counter
	swapCounter       metric.Int64Counter
	flashCounter      metric.Int64Counter
	borrowCounter     metric.Int64Counter
	oracleReadCounter metric.Int64Counter
}

var (
	labOnce     sync.Once
	labRegistry *LabMetrics
)

// Lab returns the lazily-initialised lab metrics registry. Its instruments
// come from the global meter provider and follow a provider installed later.
func Lab() *LabMetrics {
	labOnce.Do(func() {
		labRegistry = NewLabMetrics(prometheus.DefaultRegisterer, otel.GetMeterProvider().Meter(meterName))
	})
	return labRegistry
}

// NewLabMetrics builds counters registered on reg and instruments created from
// meter. A nil meter records nothing on the OpenTelemetry side.
func NewLabMetrics(reg prometheus.Registerer, meter metric.Meter) *LabMetrics {
	m := &LabMetrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defilab",
			Subsystem: "state",
			Name:      "units_total",
			Help:      "Execution units processed segmented by final status.",
		}, []string{"status"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defilab",
			Subsystem: "amm",
			Name:      "swaps_total",
			Help:      "Executed pool swaps segmented by input asset.",
		}, []string{"asset_in"}),
		flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defilab",
			Subsystem: "flash",
			Name:      "loans_total",
			Help:      "Flash loans segmented by outcome.",
		}, []string{"outcome"}),
		borrows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defilab",
			Subsystem: "lending",
			Name:      "borrows_total",
			Help:      "Borrow attempts segmented by outcome.",
		}, []string{"outcome"}),
		oracleReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defilab",
			Subsystem: "oracle",
			Name:      "reads_total",
			Help:      "Oracle price reads segmented by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.units, m.swaps, m.flashLoans, m.borrows, m.oracleReads)
	m.initMeter(meter)
	return m
}

func (m *LabMetrics) initMeter(meter metric.Meter) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	m.unitCounter = int64Counter(meter, "defilab.state.units", "Execution units by final status.")
	m.swapCounter = int64Counter(meter, "defilab.amm.swaps", "Executed pool swaps by input asset.")
	m.flashCounter = int64Counter(meter, "defilab.flash.loans", "Flash loans by outcome.")
	m.borrowCounter = int64Counter(meter, "defilab.lending.borrows", "Borrow attempts by outcome.")
	m.oracleReadCounter = int64Counter(meter, "defilab.oracle.reads", "Oracle price reads by source.")
}

func int64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
	}
	return counter
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return strings.ToLower(value)
}

func record(vec *prometheus.CounterVec, counter metric.Int64Counter, key, value string) {
	value = label(value)
	vec.WithLabelValues(value).Inc()
	if counter != nil {
		counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String(key, value)))
	}
}

// ObserveUnit records the final status of an execution unit.
func (m *LabMetrics) ObserveUnit(status string) {
	if m == nil {
		return
	}
	record(m.units, m.unitCounter, "status", status)
}

// ObserveSwap records an executed swap.
func (m *LabMetrics) ObserveSwap(assetIn string) {
	if m == nil {
		return
	}
	record(m.swaps, m.swapCounter, "asset_in", assetIn)
}

// ObserveFlashLoan records a flash loan outcome ("repaid" or "failed").
func (m *LabMetrics) ObserveFlashLoan(outcome string) {
	if m == nil {
		return
	}
	record(m.flashLoans, m.flashCounter, "outcome", outcome)
}

// ObserveBorrow records a borrow outcome.
func (m *LabMetrics) ObserveBorrow(outcome string) {
	if m == nil {
		return
	}
	record(m.borrows, m.borrowCounter, "outcome", outcome)
}

// ObserveOracleRead records a price read served by the named source.
func (m *LabMetrics) ObserveOracleRead(source string) {
	if m == nil {
		return
	}
	record(m.oracleReads, m.oracleReadCounter, "source", source)
}

// UnitsCollector exposes the unit counter for inspection.
func (m *LabMetrics) UnitsCollector() *prometheus.CounterVec { return m.units }

// BorrowsCollector exposes the borrow counter for inspection.
func (m *LabMetrics) BorrowsCollector() *prometheus.CounterVec { return m.borrows }
