package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terraskye/tabflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithEventTelemetry wraps an EventHandler with OpenTelemetry tracing and
// metrics. A skipped event (the handler declares no interest in the kind) is
// not an error at the span level.
func WithEventTelemetry(next tabflow.EventHandler) tabflow.EventHandler {
	return tabflow.NewEventHandlerFunc(func(ctx context.Context, envelope *tabflow.Envelope) error {
		eventType := envelope.Event.EventType()

		attr := []attribute.KeyValue{
			AttrEventType.String(eventType),
			AttrEventID.String(envelope.EventID.String()),
			AttrEventGlobalPos.Int64(int64(envelope.GlobalVersion)),
			AttrEventStreamPos.Int64(int64(envelope.Version)),
			AttrStreamID.String(envelope.StreamID),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", eventType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		startTime := time.Now()
		err := next.Handle(ctx, envelope)
		EventBusDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(eventType)),
		)

		if err != nil {
			var skipped *tabflow.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
				return err
			}
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			EventBusErrors.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
			return err
		}

		span.SetStatus(codes.Ok, "")
		EventBusHandled.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
		return nil
	})
}
