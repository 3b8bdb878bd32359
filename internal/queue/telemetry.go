package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the scope name for queue spans and instruments.
const InstrumentationName = "waitline/internal/queue"

// Instrument names recorded by the engine.
const (
	MetricDuration   = "waitline.queue.op.duration"
	MetricOperations = "waitline.queue.op.count"
	MetricRetries    = "waitline.queue.tx.retries"
)

type telemetry struct {
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	operations metric.Int64Counter
	retries    metric.Int64Counter
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) *telemetry {
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	// The metric API hands back noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		MetricDuration,
		metric.WithDescription("Duration of queue operations in seconds, retries included"),
		metric.WithUnit("s"),
	)
	operations, _ := meter.Int64Counter(
		MetricOperations,
		metric.WithDescription("Total number of queue operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	retries, _ := meter.Int64Counter(
		MetricRetries,
		metric.WithDescription("Transactions retried after a serialization conflict"),
		metric.WithUnit("{retry}"),
	)
	return &telemetry{tracer: tracer, duration: duration, operations: operations, retries: retries}
}

// start opens a span for op and returns a finisher that records metrics.
func (t *telemetry) start(ctx context.Context, op Op, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := t.tracer.Start(ctx, "waitline.queue."+string(op),
		trace.WithAttributes(append([]attribute.KeyValue{attribute.String("waitline.op", string(op))}, attrs...)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
			// Empty queue is an expected outcome rather than a failure.
			if KindOf(err) == KindEmptyQueue {
				span.SetStatus(codes.Ok, "")
			} else {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("waitline.outcome", outcome))
		span.End()

		set := metric.WithAttributes(
			attribute.String("op", string(op)),
			attribute.String("outcome", outcome),
		)
		t.duration.Record(ctx, time.Since(begin).Seconds(), set)
		t.operations.Add(ctx, 1, set)
	}
}

func (t *telemetry) retried(ctx context.Context, op Op) {
	t.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
}
