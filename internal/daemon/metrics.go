package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

const meterName = "cirrus.discovery"

// Metrics holds discovery metrics using OTEL semantic conventions
type Metrics struct {
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
	resources       metric.Int64Gauge
	adapterFailures metric.Int64Counter
	changeEvents    metric.Int64Counter
}

// NewMetrics creates discovery metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates discovery metrics on the given provider.
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	runs, err := meter.Int64Counter(
		"cirrus.discovery.runs",
		metric.WithDescription("Number of discovery passes"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"cirrus.discovery.duration",
		metric.WithDescription("Duration of discovery passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64Gauge(
		"cirrus.resources.discovered",
		metric.WithDescription("Number of cloud resources discovered in the last pass"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	adapterFailures, err := meter.Int64Counter(
		"cirrus.discovery.adapter_failures",
		metric.WithDescription("Number of adapter calls that errored or timed out"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	changeEvents, err := meter.Int64Counter(
		"cirrus.change_events",
		metric.WithDescription("Number of resource changes detected between passes"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:            runs,
		runDuration:     runDuration,
		resources:       resources,
		adapterFailures: adapterFailures,
		changeEvents:    changeEvents,
	}, nil
}

// RecordRun records one pass with its status.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSnapshot records per-family counts and adapter failures.
// Disabled and unregistered families are not failures.
func (m *Metrics) RecordSnapshot(ctx context.Context, snap plugin.Snapshot) {
	for family, rs := range snap.Resources {
		if _, failed := snap.Failed[family]; failed {
			continue
		}
		m.resources.Record(ctx, int64(len(rs)),
			metric.WithAttributes(attribute.String("resource.family", string(family))),
		)
	}
	for family, reason := range snap.Failed {
		if !plugin.IsAdapterFailure(reason) {
			continue
		}
		m.adapterFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("resource.family", string(family))),
		)
	}
}

// RecordChange records a change event
func (m *Metrics) RecordChange(ctx context.Context, changeType resource.DiffType, family resource.Family) {
	m.changeEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("change.type", string(changeType)),
			attribute.String("resource.family", string(family)),
		),
	)
}
