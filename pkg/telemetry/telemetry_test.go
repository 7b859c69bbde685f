package telemetry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jingkaihe/skillbox/pkg/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupExportsSpans(t *testing.T) {
	original := otel.GetTracerProvider()
	defer otel.SetTracerProvider(original)

	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Setup(context.Background(),
		config.TracingConfig{Enabled: true, Sampler: SamplerAlways},
		WithExporter(exporter), WithSyncExport())
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "work")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, ServiceName, service)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsBadSampler(t *testing.T) {
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Sampler: "sometimes"})
	assert.ErrorContains(t, err, "unknown tracing sampler")
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name    string
		sampler string
		ratio   float64
		want    string
		wantErr bool
	}{
		{name: "default", sampler: "", want: sdktrace.AlwaysSample().Description()},
		{name: "always", sampler: SamplerAlways, want: sdktrace.AlwaysSample().Description()},
		{name: "never", sampler: SamplerNever, want: sdktrace.NeverSample().Description()},
		{name: "ratio", sampler: SamplerRatio, ratio: 0.5, want: "TraceIDRatioBased"},
		{name: "ratio out of range", sampler: SamplerRatio, ratio: 1.5, wantErr: true},
		{name: "unknown", sampler: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSampler(tt.sampler, tt.ratio)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, s.Description(), tt.want)
		})
	}
}

func TestSkillSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(original)

	err := SkillSpan(context.Background(), "weather", "current", func(ctx context.Context) error {
		AddEvent(ctx, "fetched")
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("boom")
	err = SkillSpan(context.Background(), "weather", "current", func(context.Context) error {
		return failure
	})
	assert.Equal(t, failure, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "skill.weather.current", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
