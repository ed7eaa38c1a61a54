package logging

import (
	"context"
	"log/slog"

	cqrs "github.com/terraskye/tabflow"
)

// WithEventLogging wraps an EventHandler with debug logging around each
// delivery.
func WithEventLogging(logger *slog.Logger, next cqrs.EventHandler) cqrs.EventHandler {
	return cqrs.NewEventHandlerFunc(func(ctx context.Context, envelope *cqrs.Envelope) error {
		l := logger.With(
			"stream-id", envelope.StreamID,
			"event-type", envelope.Event.EventType(),
			"version", envelope.Version,
			"global-version", envelope.GlobalVersion,
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, envelope)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
