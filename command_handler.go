package tabflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StreamNamer produces the stream name for a given command, with access to context.
type StreamNamer func(ctx context.Context, cmd Command) string

// DefaultStreamNamer maps a command to its stream name when no custom
// StreamNamer is configured. By default the aggregate ID is the stream name.
// Override globally to support prefixes or multi-tenancy:
//
//	DefaultStreamNamer = func(ctx context.Context, cmd Command) string {
//	    return "tenant-a-" + cmd.AggregateID()
//	}
var DefaultStreamNamer StreamNamer = func(ctx context.Context, cmd Command) string {
	return cmd.AggregateID()
}

// CommandHandler handles commands of a specific type C: it validates the
// command against replayed state and returns the append outcome. Handlers
// built by NewCommandHandler are the only mutation path into a stream.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Evolver folds one stored envelope into the current state, producing the
// next state. It must be pure and depend only on event kind and payload.
type Evolver[T any] func(currentState T, envelope *Envelope) T

// Decider produces the events a command should cause given current state, or
// a domain rejection. Deciders are pure functions: no I/O, no clock, no
// randomness. Purity is what makes re-running a decider after a concurrency
// conflict safe. An empty event slice means the command had no effect and
// nothing is persisted.
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption customizes a handler built by NewCommandHandler.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler returns the generic replay-then-handle pipeline for one
// aggregate type and command type:
//
//  1. Load the stream for the command's aggregate.
//  2. Fold the history through evolve, starting from initialState.
//  3. Run decide on the replayed state; a rejection aborts immediately with
//     no store interaction.
//  4. Wrap the decided events in envelopes and append them with the loaded
//     revision as the expected version.
//  5. On *StreamRevisionConflictError, re-run 1-4 from a fresh load, bounded
//     by the configured retry strategy. Every attempt replays from scratch;
//     nothing is carried over, so a lost race never corrupts state.
//
// Publication is not part of the handler: the dispatcher publishes the
// committed envelopes from the AppendResult after the retry loop resolves,
// so side effects run once per durably-committed event, never once per
// attempt.
func NewCommandHandler[T any, C Command](
	store EventStore,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		RetryStrategy: func() backoff.BackOff { return &backoff.StopBackOff{} },
		StreamNamer:   DefaultStreamNamer,
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (AppendResult, error) {
		stream := cfg.StreamNamer(ctx, command)

		result, err := backoff.RetryWithData(func() (AppendResult, error) {
			// Fresh state and revision on every attempt.
			state := initialState
			var revision uint64

			iter, err := store.LoadStream(ctx, stream)
			if err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle command %T for stream %q: load failed: %w", command, stream, err))
			}

			for iter.Next(ctx) {
				envelope := iter.Value()
				revision = envelope.Version
				state = evolve(state, envelope)
			}
			if err := iter.Err(); err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle command %T for stream %q: iteration failed: %w", command, stream, err))
			}

			events, err := decide(state, command)
			if err != nil {
				return AppendResult{StreamID: stream},
					backoff.Permanent(fmt.Errorf("handle command %T for stream %q: %w: %w", command, stream, ErrCommandRejected, err))
			}

			if len(events) == 0 {
				return AppendResult{Successful: true, StreamID: stream, NextExpectedVersion: revision}, nil
			}

			baseMetadata := make(map[string]any)
			for _, fn := range cfg.MetadataFuncs {
				for k, v := range fn(ctx) {
					baseMetadata[k] = v
				}
			}

			envelopes := make([]Envelope, len(events))
			nextVersion := revision
			for i, event := range events {
				nextVersion++
				envelopes[i] = Envelope{
					EventID:    uuid.New(),
					StreamID:   stream,
					Event:      event,
					Metadata:   baseMetadata,
					Version:    nextVersion,
					OccurredAt: time.Now(),
				}
			}

			result, err := store.Save(ctx, envelopes, Revision(revision))
			if err != nil {
				var conflict *StreamRevisionConflictError
				if errors.As(err, &conflict) {
					// Retryable: a competing writer won the race.
					return AppendResult{StreamID: stream}, err
				}
				return result, backoff.Permanent(fmt.Errorf("handle command %T for stream %q: save failed: %w", command, stream, err))
			}
			return result, nil
		}, cfg.RetryStrategy())

		return result, err
	}
}

// handlerOptions configures a CommandHandler.
type handlerOptions struct {
	// RetryStrategy builds the backoff applied to concurrency-conflict
	// retries. It is a factory because backoff values are stateful and one
	// handler serves concurrent submissions.
	RetryStrategy func() backoff.BackOff

	// MetadataFuncs enrich every produced envelope; applied in registration
	// order, later keys overwrite earlier ones.
	MetadataFuncs []func(ctx context.Context) map[string]any

	// StreamNamer produces the stream name for a command.
	StreamNamer StreamNamer
}

// WithRetryStrategy sets the conflict retry policy. The factory is invoked
// once per command submission.
func WithRetryStrategy(strategy func() backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.RetryStrategy = strategy }
}

// WithConflictRetries retries a conflicted submission up to attempts times
// with exponential backoff before surfacing the conflict to the caller.
func WithConflictRetries(attempts uint64) CommandHandlerOption {
	return WithRetryStrategy(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts)
	})
}

// WithMetadataExtractor adds a metadata function applied to every produced
// envelope. Extractors can be combined; they run in registration order.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.MetadataFuncs = append(h.MetadataFuncs, fn)
	}
}

// WithStreamNamer overrides the stream naming for this handler only.
func WithStreamNamer(namer StreamNamer) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.StreamNamer = namer
	}
}
