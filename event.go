package tabflow

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope wraps an Event with the positions and metadata assigned when the
// event was committed to a stream. Envelopes are immutable after Save.
type Envelope struct {
	EventID  uuid.UUID
	StreamID string
	Metadata map[string]any
	Event    Event

	// Version is the position of the event within its stream, starting at 1,
	// strictly increasing and gapless.
	Version uint64

	// GlobalVersion is the store-wide position assigned on append. It is the
	// cursor used by pull-based consumers of LoadFromAll.
	GlobalVersion uint64

	OccurredAt time.Time
}
