package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives runtime measurements. The queue reports posts,
// dispatches and handler calls; the class registry reports instances and
// unloads. NoopMetrics discards everything.
type MetricsRecorder interface {
	RecordPost(ctx context.Context, eventType string)
	RecordDispatch(ctx context.Context, eventType string, delivered int)
	RecordHandler(ctx context.Context, listener string, duration time.Duration, err error)
	RecordInstance(ctx context.Context, classID string)
	RecordUnload(ctx context.Context, classID string)
}

type otelMetrics struct {
	posted     metric.Int64Counter
	dispatched metric.Int64Counter
	latency    metric.Float64Histogram
	errors     metric.Int64Counter
	instances  metric.Int64Counter
	unloads    metric.Int64Counter
}

var (
	globalMetricsInst *otelMetrics
	globalMetricsOnce sync.Once
	globalMetricsErr  error
)

func globalMetrics() (*otelMetrics, error) {
	globalMetricsOnce.Do(func() {
		globalMetricsInst, globalMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return globalMetricsInst, globalMetricsErr
}

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("capsule")
	m := &otelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.posted, "capsule.events.posted", "Events posted to a queue"},
		{&m.dispatched, "capsule.events.dispatched", "Events dispatched to listeners"},
		{&m.errors, "capsule.handler.errors", "Failed handler invocations"},
		{&m.instances, "capsule.class.instances", "Instances created through the class registry"},
		{&m.unloads, "capsule.class.unloads", "Classes unloaded"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	latency, err := meter.Float64Histogram("capsule.handler.latency_ms",
		metric.WithDescription("Handler latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("histogram capsule.handler.latency_ms: %w", err)
	}
	m.latency = latency
	return m, nil
}

// NewMetricsRecorder uses the global meter provider, so call
// otel.SetMeterProvider first. The instruments are created once per
// process; on failure it warns and falls back to NoopMetrics.
func NewMetricsRecorder() MetricsRecorder {
	m, err := globalMetrics()
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor returns a MetricsRecorder bound to provider.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	return newOtelMetrics(provider)
}

func one(ctx context.Context, c metric.Int64Counter, kv ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(kv...))
}

func (m *otelMetrics) RecordPost(ctx context.Context, eventType string) {
	one(ctx, m.posted, attribute.String("event_type", eventType))
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, delivered int) {
	one(ctx, m.dispatched, attribute.String("event_type", eventType), attribute.Int("delivered", delivered))
}

func (m *otelMetrics) RecordHandler(ctx context.Context, listener string, duration time.Duration, err error) {
	who := attribute.String("listener", listener)
	m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(who))
	if err != nil {
		one(ctx, m.errors, who)
	}
}

func (m *otelMetrics) RecordInstance(ctx context.Context, classID string) {
	one(ctx, m.instances, attribute.String("class_id", classID))
}

func (m *otelMetrics) RecordUnload(ctx context.Context, classID string) {
	one(ctx, m.unloads, attribute.String("class_id", classID))
}
