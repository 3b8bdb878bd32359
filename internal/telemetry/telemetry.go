// Package telemetry installs the OpenTelemetry SDK for the daemon.
//
// Queue metrics stay in process: a manual reader collects them on demand so
// the status endpoint can report operation counts without an external
// collector. Spans that end in error are logged at debug level.
package telemetry

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"waitline/internal/logging"
	"waitline/internal/queue"
)

// Provider owns the tracer and meter providers handed to the queue engine.
type Provider struct {
	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	reader  *sdkmetric.ManualReader
}

// OpCount is the number of operations of one kind that ended with outcome.
type OpCount struct {
	Op      string
	Outcome string
	Count   int64
}

// QueueStats summarizes engine activity since the daemon started.
type QueueStats struct {
	Operations []OpCount
	Retries    int64
}

// Total returns the number of operations, optionally limited to outcome.
func (s QueueStats) Total(outcome string) int64 {
	var total int64
	for _, c := range s.Operations {
		if outcome == "" || c.Outcome == outcome {
			total += c.Count
		}
	}
	return total
}

// New builds a provider. logger receives failed-span records.
func New(logger *slog.Logger) *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		tracers: sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(failedSpanLogger{logger: logging.NewComponentLogger(logger, "telemetry")}),
		),
		meters: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader: reader,
	}
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracers.Tracer(queue.InstrumentationName)
}

func (p *Provider) Meter() metric.Meter {
	return p.meters.Meter(queue.InstrumentationName)
}

// QueueStats collects the current engine counters.
func (p *Provider) QueueStats(ctx context.Context) (QueueStats, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return QueueStats{}, err
	}
	var stats QueueStats
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			switch m.Name {
			case queue.MetricOperations:
				for _, dp := range sum.DataPoints {
					stats.Operations = append(stats.Operations, OpCount{
						Op:      attr(dp.Attributes, "op"),
						Outcome: attr(dp.Attributes, "outcome"),
						Count:   dp.Value,
					})
				}
			case queue.MetricRetries:
				for _, dp := range sum.DataPoints {
					stats.Retries += dp.Value
				}
			}
		}
	}
	slices.SortFunc(stats.Operations, func(a, b OpCount) int {
		return cmp.Or(cmp.Compare(a.Op, b.Op), cmp.Compare(a.Outcome, b.Outcome))
	})
	return stats, nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracers.Shutdown(ctx), p.meters.Shutdown(ctx))
}

func attr(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

type failedSpanLogger struct {
	logger *slog.Logger
}

func (failedSpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l failedSpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.Status().Code != codes.Error {
		return
	}
	l.logger.Debug("queue operation failed",
		logging.String("span", s.Name()),
		logging.Duration("duration", s.EndTime().Sub(s.StartTime())),
		logging.String("error", s.Status().Description),
	)
}

func (failedSpanLogger) Shutdown(context.Context) error { return nil }

func (failedSpanLogger) ForceFlush(context.Context) error { return nil }
