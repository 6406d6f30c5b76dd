package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordPost(context.Context, string) {}
func (NoopMetrics) RecordDispatch(context.Context, string, int) {}
func (NoopMetrics) RecordHandler(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordInstance(context.Context, string) {}
func (NoopMetrics) RecordUnload(context.Context, string) {}

// NoopSpanManager hands out non-recording spans and leaves ctx untouched.
type NoopSpanManager struct{}

func (NoopSpanManager) StartProcessSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartDispatchSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}

var (
	_ MetricsRecorder = NoopMetrics{}
	_ SpanManager     = NoopSpanManager{}
)
