package tabflow

import (
	"context"
)

// EventStore is the contract for append-only, per-stream event persistence.
//
// Implementations must guarantee:
//   - Events for a given stream are stored in order, versioned 1..n gapless.
//   - Save is atomic per batch: either every event in the batch becomes
//     visible or none does.
//   - Concurrency control per the StreamState passed to Save; a Revision
//     mismatch fails with *StreamRevisionConflictError and implies a
//     competing writer succeeded in between.
//   - Loading a stream with no history yields an empty iterator, never an
//     error: "no history yet" is a valid state the domain decides about.
//   - Appends to distinct streams do not contend with each other.
type EventStore interface {
	// Save appends all events in the batch to the stream named by their
	// StreamID. Every envelope in the batch must carry the same StreamID.
	// The store assigns stream positions and the global position; the
	// returned AppendResult carries the envelopes as persisted, ready for
	// publication.
	Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)

	// LoadStream yields the full history of the stream, oldest first.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom yields events with Version greater than version.
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadFromAll yields events across all streams with GlobalVersion
	// greater than after, in commit order. This is the rebuild and polling
	// feed: a projection can always be reconstructed by replaying from 0.
	LoadFromAll(ctx context.Context, after uint64) (*Iterator[*Envelope], error)

	// Close releases backend resources. Implementations make it idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful bool
	StreamID   string

	// NextExpectedVersion is the stream version after the append, i.e. the
	// expected revision for the next write.
	NextExpectedVersion uint64

	// Events holds the envelopes as durably committed, with stream and
	// global positions assigned. The dispatcher publishes exactly these.
	Events []Envelope
}
