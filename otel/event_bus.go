package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terraskye/tabflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ tabflow.EventBus = (*TelemetryEventBus)(nil)

// TelemetryEventBus decorates an EventBus so every subscription handler runs
// inside a consumer span. When the envelope metadata carries an injected
// trace context (see TelemetryStore.Save), the consumer span links back to
// the producing command's trace, which gives end-to-end correlation across
// transports.
type TelemetryEventBus struct {
	next tabflow.EventBus
	cfg  *config
}

// WithEventBusTelemetry wraps an EventBus with tracing and metrics.
func WithEventBusTelemetry(next tabflow.EventBus, options ...Option) *TelemetryEventBus {
	cfg := &config{}
	for _, o := range options {
		o.apply(cfg)
	}
	return &TelemetryEventBus{next: next, cfg: cfg}
}

// Publish forwards to the underlying bus, counting published envelopes.
func (t *TelemetryEventBus) Publish(ctx context.Context, envelopes []tabflow.Envelope) error {
	err := t.next.Publish(ctx, envelopes)
	if err == nil {
		EventsPublished.Add(ctx, int64(len(envelopes)))
	}
	return err
}

// Subscribe registers the handler wrapped in a consumer span per delivery.
func (t *TelemetryEventBus) Subscribe(ctx context.Context, name string, filter func(tabflow.Event) bool, handler tabflow.EventHandler, opts ...tabflow.SubscriberOption) error {
	wrapped := tabflow.NewEventHandlerFunc(func(ctx context.Context, envelope *tabflow.Envelope) error {
		eventType := envelope.Event.EventType()

		attr := []attribute.KeyValue{
			AttrEventType.String(eventType),
			AttrEventID.String(envelope.EventID.String()),
			AttrEventGlobalPos.Int64(int64(envelope.GlobalVersion)),
			AttrEventStreamPos.Int64(int64(envelope.Version)),
			AttrStreamID.String(envelope.StreamID),
			AttrSubscriberName.String(name),
		}
		attr = append(attr, t.cfg.Attributes...)
		if t.cfg.GetAttributes != nil {
			attr = append(attr, t.cfg.GetAttributes(ctx)...)
		}

		// Recover the producing trace context from envelope metadata.
		carrier := make(propagation.MapCarrier)
		for k, v := range envelope.Metadata {
			if s, ok := v.(string); ok && s != "" {
				carrier[k] = s
			}
		}
		originalCtx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
		originalSpanContext := trace.SpanContextFromContext(originalCtx)

		ctx, span := tracer.Start(ctx, fmt.Sprintf("subscription.receive %s", name),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithLinks(trace.Link{
				SpanContext: originalSpanContext,
				Attributes: []attribute.KeyValue{
					attribute.String("link.reason", "event.consumed.from.stream"),
				},
			}),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		startTime := time.Now()
		err := handler.Handle(ctx, envelope)
		EventBusDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(eventType), AttrSubscriberName.String(name)),
		)

		if err != nil {
			var skipped *tabflow.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				EventBusErrors.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}

		EventBusHandled.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
		span.SetStatus(codes.Ok, "")
		return nil
	})

	return t.next.Subscribe(ctx, name, filter, wrapped, opts...)
}

// Errors returns the error channel from the underlying event bus.
func (t *TelemetryEventBus) Errors() <-chan error {
	return t.next.Errors()
}

// Close closes the underlying event bus.
func (t *TelemetryEventBus) Close() error {
	return t.next.Close()
}
