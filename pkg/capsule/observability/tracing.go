package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager opens the spans around queue work: one "capsule.process"
// span per Process pass and a "capsule.dispatch" child per event.
// NoopSpanManager is used when tracing is off.
type SpanManager interface {
	StartProcessSpan(ctx context.Context, queue string, pending int) (context.Context, trace.Span)
	StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span)

	// EndSpanWithError sets the span status from err and ends it.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent annotates the recording span in ctx, if any.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global tracer provider as it is at
// the time of the call.
func NewSpanManager() SpanManager {
	return NewSpanManagerFor(otel.GetTracerProvider())
}

// NewSpanManagerFor traces through provider.
func NewSpanManagerFor(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("capsule")}
}

func (m *otelSpanManager) start(ctx context.Context, name string, kv ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(kv...))
}

func (m *otelSpanManager) StartProcessSpan(ctx context.Context, queue string, pending int) (context.Context, trace.Span) {
	return m.start(ctx, "capsule.process",
		attribute.String("queue.name", queue),
		attribute.Int("queue.pending", pending))
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return m.start(ctx, "capsule.dispatch",
		attribute.String("event.id", eventID),
		attribute.String("event.type", eventType))
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
