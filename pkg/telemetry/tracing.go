// Package telemetry provides OpenTelemetry tracing for skill invocations.
// Tracing is off unless tracing.enabled is set; the exporter reads the
// standard OTEL_EXPORTER_OTLP_* environment variables.
package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/version"
)

// ServiceName identifies skillbox in exported traces.
const ServiceName = "skillbox"

// Sampler names accepted in tracing.sampler.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

type setupOptions struct {
	exporter sdktrace.SpanExporter
	sync     bool
}

// Option adjusts Setup.
type Option func(*setupOptions)

// WithExporter replaces the OTLP exporter, mostly for tests.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *setupOptions) { o.exporter = exp }
}

// WithSyncExport exports each span as it ends instead of batching. Short
// lived CLI processes use it so nothing is lost on exit.
func WithSyncExport() Option {
	return func(o *setupOptions) { o.sync = true }
}

// Setup installs a global tracer provider described by cfg and returns the
// function that flushes it. A disabled config installs nothing.
func Setup(ctx context.Context, cfg config.TracingConfig, opts ...Option) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	sampler, err := NewSampler(cfg.Sampler, cfg.Ratio)
	if err != nil {
		return nil, err
	}

	o := &setupOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.exporter == nil {
		if o.exporter, err = otlptracehttp.New(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to create trace exporter")
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes()...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	processor := sdktrace.NewBatchSpanProcessor(o.exporter,
		sdktrace.WithMaxExportBatchSize(512),
		sdktrace.WithBatchTimeout(time.Second),
	)
	if o.sync {
		processor = sdktrace.NewSimpleSpanProcessor(o.exporter)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// the provider shuts its processors and exporter down with it
	return provider.Shutdown, nil
}

func resourceAttributes() []attribute.KeyValue {
	info := version.Get()
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(info.Version),
		attribute.String("vcs.revision", info.GitCommit),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	return attrs
}

// NewSampler maps a sampler name to an SDK sampler. An empty name samples
// everything; a ratio sampler respects the parent's decision.
func NewSampler(name string, ratio float64) (sdktrace.Sampler, error) {
	switch name {
	case "", SamplerAlways:
		return sdktrace.AlwaysSample(), nil
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, errors.Errorf("tracing ratio must be between 0 and 1, got %v", ratio)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, errors.Errorf("unknown tracing sampler %q (want always, never or ratio)", name)
	}
}
