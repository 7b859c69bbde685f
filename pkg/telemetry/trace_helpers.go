package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider, defaulting to the
// service name.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = ServiceName
	}
	return otel.GetTracerProvider().Tracer(name)
}

// SkillSpan runs f inside a span named skill.<skill>.<op>. An error from f
// marks the span failed and is returned unchanged.
func SkillSpan(ctx context.Context, skill, op string, f func(context.Context) error, attrs ...attribute.KeyValue) error {
	attrs = append(attrs, attribute.String("skill.name", skill), attribute.String("skill.op", op))
	ctx, span := Tracer(ServiceName).Start(ctx, "skill."+skill+"."+op, trace.WithAttributes(attrs...))
	defer span.End()

	if err := f(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// AddEvent records an event on the span carried by ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
