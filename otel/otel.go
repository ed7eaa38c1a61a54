package otel

import (
	"github.com/terraskye/tabflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/tabflow"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType = attribute.Key("tabflow.command.type")
	AttrAggregateID = attribute.Key("tabflow.aggregate.id")

	// Stream attributes
	AttrStreamID      = attribute.Key("tabflow.stream.id")
	AttrStreamVersion = attribute.Key("tabflow.stream.version")

	// Event attributes
	AttrEventType      = attribute.Key("tabflow.event.type")
	AttrEventID        = attribute.Key("tabflow.event.id")
	AttrEventCount     = attribute.Key("tabflow.events.count")
	AttrEventGlobalPos = attribute.Key("tabflow.event.global_position")
	AttrEventStreamPos = attribute.Key("tabflow.event.stream_position")

	// EventBus attributes
	AttrSubscriberName  = attribute.Key("tabflow.subscriber.name")
	AttrSubscriberCount = attribute.Key("tabflow.subscriber.count")
	AttrHandlerName     = attribute.Key("tabflow.handler.name")
	AttrProjectionName  = attribute.Key("tabflow.projection.name")

	// Error attributes
	AttrErrorType    = attribute.Key("tabflow.error.type")
	AttrErrorMessage = attribute.Key("tabflow.error.message")
	AttrRetryCount   = attribute.Key("tabflow.retry.count")
	AttrRetryMax     = attribute.Key("tabflow.retry.max")

	// Operation attributes
	AttrOperation    = attribute.Key("tabflow.operation")
	AttrConflictType = attribute.Key("tabflow.conflict.type")
	AttrShardID      = attribute.Key("tabflow.shard.id")
	AttrQueueDepth   = attribute.Key("tabflow.queue.depth")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(tabflow.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(tabflow.InstrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"tabflow.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"tabflow.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"tabflow.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"tabflow.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	CommandsRejected, _ = meter.Int64Counter(
		"tabflow.commands.rejected",
		metric.WithDescription("Number of commands rejected by domain rules"),
		metric.WithUnit("{command}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"tabflow.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsPublished, _ = meter.Int64Counter(
		"tabflow.events.published",
		metric.WithDescription("Number of events published to event bus"),
		metric.WithUnit("{event}"),
	)

	// EventBus metrics
	EventBusHandled, _ = meter.Int64Counter(
		"tabflow.eventbus.handled",
		metric.WithDescription("Number of events handled by subscribers"),
		metric.WithUnit("{event}"),
	)

	EventBusErrors, _ = meter.Int64Counter(
		"tabflow.eventbus.errors",
		metric.WithDescription("Number of event bus handler errors"),
		metric.WithUnit("{error}"),
	)

	EventBusDuration, _ = meter.Float64Histogram(
		"tabflow.eventbus.duration",
		metric.WithDescription("Event bus handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// EventStore metrics
	EventStoreSaves, _ = meter.Int64Counter(
		"tabflow.eventstore.saves",
		metric.WithDescription("Number of save operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"tabflow.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"tabflow.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"tabflow.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	// System metrics
	ConcurrencyConflicts, _ = meter.Int64Counter(
		"tabflow.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)

	StreamVersionGauge, _ = meter.Int64Gauge(
		"tabflow.stream.version",
		metric.WithDescription("Current version of streams"),
		metric.WithUnit("{version}"),
	)

	DispatcherQueueDepth, _ = meter.Int64UpDownCounter(
		"tabflow.dispatcher.queue_depth",
		metric.WithDescription("Current depth of dispatcher shard queues"),
		metric.WithUnit("{command}"),
	)
)
