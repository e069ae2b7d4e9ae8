// Package telemetry installs the OpenTelemetry meter provider that the
// settlement pass reports through.
//
// When telemetry is disabled no provider is installed and every instrument
// stays a no-op. When enabled, metrics are pushed over OTLP/gRPC on a
// fixed interval.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/version"
)

// ServiceName identifies remit in exported resources
const ServiceName = "remit"

// Provider owns the SDK meter provider, if one was installed
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	log           *zap.SugaredLogger
}

// Setup installs a global meter provider exporting to cfg.Endpoint.
// A disabled config returns a Provider that records nothing.
func Setup(ctx context.Context, cfg am.TelemetryConfig, log *zap.SugaredLogger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		log.Debugw("Telemetry disabled")
		return &Provider{log: log}, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create metric exporter for %s", cfg.Endpoint)
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	p := New(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), log)
	otel.SetMeterProvider(p.meterProvider)

	log.Infow("Telemetry enabled", "endpoint", cfg.Endpoint, "interval", interval)
	return p, nil
}

// New builds a provider around reader without installing it globally
func New(reader sdkmetric.Reader, log *zap.SugaredLogger) *Provider {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	// schemaless: no schema URL to conflict with the SDK's environment resource
	res := resource.NewSchemaless(
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version.Get().ServiceVersion()),
	)
	return &Provider{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
		log: log,
	}
}

// Enabled reports whether a provider is installed
func (p *Provider) Enabled() bool {
	return p.meterProvider != nil
}

// MeterProvider returns the installed provider, or a no-op one
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return noop.NewMeterProvider()
	}
	return p.meterProvider
}

// Shutdown flushes pending metrics and stops the exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.log.Warnw("Failed to shut down meter provider", "error", err)
		return errors.Wrap(err, "failed to shut down meter provider")
	}
	return nil
}
