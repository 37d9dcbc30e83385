package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/types"
)

const storageScopeName = "github.com/KohakuBlueleaf/DIG/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in dig.queue.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner      storage.Storage
	tracer     trace.Tracer
	ops        metric.Int64Counter
	dur        metric.Float64Histogram
	errs       metric.Int64Counter
	depthGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("dig.queue.operations",
		metric.WithDescription("Total queue operations executed"),
	)
	dur, _ := m.Float64Histogram("dig.queue.operation.duration",
		metric.WithDescription("Queue operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("dig.queue.errors",
		metric.WithDescription("Total queue operation errors, including claim contention"),
	)
	depthGauge, _ := m.Int64Gauge("dig.queue.depth",
		metric.WithDescription("Current number of tasks by status (snapshot from CountByStatus)"),
	)
	return &InstrumentedStorage{
		inner:      s,
		tracer:     Tracer(storageScopeName),
		ops:        ops,
		dur:        dur,
		errs:       errs,
		depthGauge: depthGauge,
	}
}

// op starts a span and records a metric for the named queue operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "queue."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStorage) Submit(ctx context.Context, task *types.Task) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("dig.task.id", task.TaskID)}
	ctx, span, t := s.op(ctx, "Submit", attrs...)
	prev, err := s.inner.Submit(ctx, task)
	s.done(ctx, span, t, err, attrs...)
	return prev, err
}

func (s *InstrumentedStorage) ClaimNext(ctx context.Context) (*types.Task, error) {
	ctx, span, t := s.op(ctx, "ClaimNext")
	task, err := s.inner.ClaimNext(ctx)
	if err == nil {
		span.SetAttributes(attribute.String("dig.task.id", task.TaskID))
	}
	s.done(ctx, span, t, err)
	return task, err
}

func (s *InstrumentedStorage) MarkCompleted(ctx context.Context, taskID, artifactPath string) error {
	attrs := []attribute.KeyValue{attribute.String("dig.task.id", taskID)}
	ctx, span, t := s.op(ctx, "MarkCompleted", attrs...)
	err := s.inner.MarkCompleted(ctx, taskID, artifactPath)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) Reset(ctx context.Context, taskID string) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("dig.task.id", taskID)}
	ctx, span, t := s.op(ctx, "Reset", attrs...)
	prev, err := s.inner.Reset(ctx, taskID)
	s.done(ctx, span, t, err, attrs...)
	return prev, err
}

func (s *InstrumentedStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("dig.task.id", taskID)}
	ctx, span, t := s.op(ctx, "Get", attrs...)
	task, err := s.inner.Get(ctx, taskID)
	s.done(ctx, span, t, err, attrs...)
	return task, err
}

func (s *InstrumentedStorage) CountByStatus(ctx context.Context) (map[types.Status]int, error) {
	ctx, span, t := s.op(ctx, "CountByStatus")
	counts, err := s.inner.CountByStatus(ctx)
	s.done(ctx, span, t, err)
	if err == nil {
		// Record current queue depth as gauge snapshots, broken down by status.
		for status, n := range counts {
			s.depthGauge.Record(ctx, int64(n),
				metric.WithAttributes(attribute.String("status", string(status))))
		}
	}
	return counts, err
}

func (s *InstrumentedStorage) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span, t := s.op(ctx, "ResetStale")
	n, err := s.inner.ResetStale(ctx, olderThan)
	if err == nil {
		span.SetAttributes(attribute.Int("dig.reset.count", n))
	}
	s.done(ctx, span, t, err)
	return n, err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
