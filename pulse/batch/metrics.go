package batch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/teranos/remit/pulse/settle"
)

const meterName = "github.com/teranos/remit/pulse/batch"

// metrics reports settlement pass activity through an OpenTelemetry meter
type metrics struct {
	outcomes     metric.Int64Counter
	passes       metric.Int64Counter
	reaped       metric.Int64Counter
	passDuration metric.Float64Histogram
	selected     metric.Int64Histogram
}

func newMetrics(provider metric.MeterProvider, log *zap.SugaredLogger) *metrics {
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error

	if m.outcomes, err = meter.Int64Counter("remit.settlement.outcomes",
		metric.WithDescription("Settlement attempts by outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		log.Warnw("Failed to create outcome counter", "error", err)
		m.outcomes = noop.Int64Counter{}
	}
	if m.passes, err = meter.Int64Counter("remit.pass.total",
		metric.WithDescription("Settlement passes run"),
		metric.WithUnit("{pass}"),
	); err != nil {
		log.Warnw("Failed to create pass counter", "error", err)
		m.passes = noop.Int64Counter{}
	}
	if m.reaped, err = meter.Int64Counter("remit.claims.reaped",
		metric.WithDescription("Stale settlement claims paused with an unknown outcome"),
		metric.WithUnit("{claim}"),
	); err != nil {
		log.Warnw("Failed to create reaped counter", "error", err)
		m.reaped = noop.Int64Counter{}
	}
	if m.passDuration, err = meter.Float64Histogram("remit.pass.duration",
		metric.WithDescription("Settlement pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		log.Warnw("Failed to create pass duration histogram", "error", err)
		m.passDuration = noop.Float64Histogram{}
	}
	if m.selected, err = meter.Int64Histogram("remit.pass.selected",
		metric.WithDescription("Schedules selected per pass"),
		metric.WithUnit("{schedule}"),
	); err != nil {
		log.Warnw("Failed to create selection histogram", "error", err)
		m.selected = noop.Int64Histogram{}
	}
	return m
}

func (m *metrics) recordOutcome(ctx context.Context, outcome settle.Outcome) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *metrics) recordPass(ctx context.Context, s *RunStats) {
	m.passes.Add(ctx, 1)
	m.passDuration.Record(ctx, s.Elapsed.Seconds())
	m.selected.Record(ctx, int64(s.Selected))
}

func (m *metrics) recordReaped(ctx context.Context, n int) {
	if n > 0 {
		m.reaped.Add(ctx, int64(n))
	}
}
