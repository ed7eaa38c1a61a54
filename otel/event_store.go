package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/terraskye/tabflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ tabflow.EventStore = (*TelemetryStore)(nil)

// TelemetryStore decorates an EventStore with tracing and metrics. Save spans
// also inject the current trace context into envelope metadata, so consumers
// on another transport can link their spans back to the producing command.
type TelemetryStore struct {
	next tabflow.EventStore
	cfg  *config
}

// WithEventStoreTelemetry wraps the store with tracing and metrics. Options
// add attributes to every span the decorator starts.
func WithEventStoreTelemetry(next tabflow.EventStore, options ...Option) tabflow.EventStore {
	cfg := &config{}
	for _, o := range options {
		o.apply(cfg)
	}
	return TelemetryStore{next: next, cfg: cfg}
}

func (t TelemetryStore) spanAttributes(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	attrs = append(attrs, t.cfg.Attributes...)
	if t.cfg.GetAttributes != nil {
		attrs = append(attrs, t.cfg.GetAttributes(ctx)...)
	}
	return attrs
}

func (t TelemetryStore) Save(ctx context.Context, events []tabflow.Envelope, revision tabflow.StreamState) (tabflow.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.spanAttributes(ctx, []attribute.KeyValue{
			AttrOperation.String("save"),
			AttrStreamID.String(streamID),
			AttrConflictType.String(fmt.Sprintf("%T", revision)),
			AttrEventCount.Int(len(events)),
		})...),
	)
	defer span.End()

	if span.SpanContext().HasTraceID() {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)

		for i := range events {
			if events[i].Metadata == nil {
				events[i].Metadata = make(map[string]any, len(carrier)+1)
			}
			events[i].Metadata["correlationId"] = span.SpanContext().TraceID().String()
			for key, value := range carrier {
				events[i].Metadata[key] = value
			}
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, revision)

	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("save")),
	)
	EventStoreSaves.Add(ctx, 1)

	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	EventsAppended.Add(ctx, int64(len(result.Events)))
	span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))
	return result, err
}

func (t TelemetryStore) LoadStream(ctx context.Context, id string) (*tabflow.Iterator[*tabflow.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadStream", AttrStreamID.String(id)), nil
}

func (t TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*tabflow.Iterator[*tabflow.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadStreamFrom",
		AttrStreamID.String(id),
		AttrEventStreamPos.Int64(int64(version)),
	), nil
}

func (t TelemetryStore) LoadFromAll(ctx context.Context, after uint64) (*tabflow.Iterator[*tabflow.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, after)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadFromAll",
		AttrEventGlobalPos.Int64(int64(after)),
	), nil
}

// traceIterator spans a lazy load from first pull to exhaustion, counting the
// events that pass through.
func (t TelemetryStore) traceIterator(iter *tabflow.Iterator[*tabflow.Envelope], operation string, attrs ...attribute.KeyValue) *tabflow.Iterator[*tabflow.Envelope] {
	started := false
	var startedAt time.Time
	var span trace.Span
	var eventCount int64

	return tabflow.NewIteratorFunc(func(ctx context.Context) (*tabflow.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, span = tracer.Start(ctx, operation,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(t.spanAttributes(ctx, attrs)...),
			)
		}

		if !iter.Next(ctx) {
			span.SetAttributes(AttrEventCount.Int64(eventCount))

			err := iter.Err()
			if err == nil || err == io.EOF {
				EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
					metric.WithAttributes(AttrOperation.String("load")),
				)
				span.End()
				return nil, io.EOF
			}

			EventStoreErrors.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}

		eventCount++
		EventsLoaded.Add(ctx, 1)
		return iter.Value(), nil
	})
}

func (t TelemetryStore) Close() error {
	return t.next.Close()
}
