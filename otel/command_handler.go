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

// WithCommandTelemetry wraps a CommandHandler with OpenTelemetry tracing and
// metrics.
//
// Each submission gets a span named after the command type, carrying the
// aggregate ID and, after execution, the stream ID and version from the
// AppendResult. The outcome is classified three ways:
//
//   - success: CommandsHandled, span status Ok.
//   - domain rejection (tabflow.ErrCommandRejected): CommandsRejected, span
//     status Ok with a command_rejected event. A rejection is the handler
//     doing its job, not a system failure.
//   - anything else: CommandsFailed, span status Error. A concurrency
//     conflict that exhausted its retries additionally bumps
//     ConcurrencyConflicts and records a concurrency_conflict span event.
//
// CommandsInFlight tracks submissions between entry and exit and
// CommandsDuration records wall time per command type.
func WithCommandTelemetry[C tabflow.Command](next tabflow.CommandHandler[C]) tabflow.CommandHandler[C] {
	var zero C
	commandType := fmt.Sprintf("%T", zero)

	baseAttributes := []attribute.KeyValue{
		AttrCommandType.String(commandType),
	}

	return func(ctx context.Context, cmd C) (tabflow.AppendResult, error) {
		attr := append(baseAttributes, AttrAggregateID.String(cmd.AggregateID()))

		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.handle %s", commandType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
		defer CommandsInFlight.Add(ctx, -1, metric.WithAttributes(AttrCommandType.String(commandType)))

		startTime := time.Now()
		result, err := next(ctx, cmd)

		attr = append(attr,
			AttrStreamID.String(result.StreamID),
			AttrStreamVersion.Int64(int64(result.NextExpectedVersion)),
		)
		span.SetAttributes(attr...)

		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), metric.WithAttributes(AttrCommandType.String(commandType)))

		if err != nil {
			if errors.Is(err, tabflow.ErrCommandRejected) {
				span.SetStatus(codes.Ok, fmt.Sprintf("command rejected: %v", err))
				span.AddEvent("command_rejected", trace.WithAttributes(
					AttrCommandType.String(commandType),
					AttrAggregateID.String(cmd.AggregateID()),
				))
				CommandsRejected.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				return result, err
			}

			var conflict *tabflow.StreamRevisionConflictError
			if errors.As(err, &conflict) {
				ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				span.AddEvent("concurrency_conflict", trace.WithAttributes(
					AttrStreamID.String(conflict.Stream),
					AttrStreamVersion.Int64(int64(conflict.Actual)),
				))
			}

			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
			return result, err
		}

		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
		if n := len(result.Events); n > 0 {
			EventsAppended.Add(ctx, int64(n), metric.WithAttributes(AttrStreamID.String(result.StreamID)))
			StreamVersionGauge.Record(ctx, int64(result.NextExpectedVersion), metric.WithAttributes(AttrStreamID.String(result.StreamID)))
		}

		return result, err
	}
}
