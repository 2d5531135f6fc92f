package otel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/skunkworks/algocore/internal/config"
)

// ErrNoExporter is returned when metrics are enabled with nowhere to send them.
var ErrNoExporter = errors.New("otel enabled but no metrics writer or endpoint configured")

// Options are the outputs of the metrics pipeline.
type Options struct {
	// Writer receives JSON metric exports on every interval and at shutdown.
	Writer io.Writer
	// Reader is an extra reader, used by tests to collect on demand.
	Reader sdkmetric.Reader
}

// Provider owns the meter provider the dispatcher instruments report to.
type Provider struct {
	cfg config.OTelConfig
	mp  metric.MeterProvider
	sdk *sdkmetric.MeterProvider
}

// New builds the metrics pipeline for cfg and installs it globally.
// When disabled, a no-op provider is installed.
func New(ctx context.Context, cfg config.OTelConfig, opts Options) (*Provider, error) {
	p := &Provider{cfg: cfg}
	if !cfg.Enabled {
		p.mp = noop.NewMeterProvider()
		otel.SetMeterProvider(p.mp)
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var readers []sdkmetric.Reader
	if opts.Reader != nil {
		readers = append(readers, opts.Reader)
	}

	if opts.Writer != nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create file metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(cfg.ExportInterval),
		))
	}

	if cfg.Endpoint != "" {
		otlpOpts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			otlpOpts = append(otlpOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(cfg.ExportInterval),
		))
	}

	if len(readers) == 0 {
		return nil, ErrNoExporter
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	p.sdk = sdkmetric.NewMeterProvider(mpOpts...)
	p.mp = p.sdk
	otel.SetMeterProvider(p.sdk)
	return p, nil
}

// Meter returns a meter tagged with the configured service name.
func (p *Provider) Meter(name string) metric.Meter {
	return p.mp.Meter(name,
		metric.WithInstrumentationAttributes(attribute.String("service.name", p.cfg.ServiceName)),
	)
}

// MeterProvider returns the installed provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// Flush exports everything recorded so far.
func (p *Provider) Flush(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.ForceFlush(ctx); err != nil {
		return fmt.Errorf("metric flush failed: %w", err)
	}
	return nil
}

// Shutdown exports pending metrics and stops the readers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("metric shutdown failed: %w", err)
	}
	return nil
}

// Enabled returns whether OTel is enabled
func (p *Provider) Enabled() bool {
	return p.cfg.Enabled
}
