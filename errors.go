package tabflow

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamExists is returned when a NoStream append finds prior history.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound is returned when a StreamExists append finds none.
	ErrStreamNotFound = errors.New("stream does not exist")

	// ErrInvalidRevision is returned for a StreamState the store does not support.
	ErrInvalidRevision = errors.New("invalid stream revision")

	// ErrInvalidEventBatch is returned when a batch mixes stream IDs.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrDuplicateHandler is raised when two handlers claim the same kind.
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrUnhandledCommand is returned when no handler is registered for a
	// command type. This is a configuration defect, not a domain rejection.
	ErrUnhandledCommand = errors.New("unhandled command")

	// ErrRegistrationClosed is returned when a projection registers after the
	// dispatcher has accepted its first command.
	ErrRegistrationClosed = errors.New("projection registration closed")

	// ErrNoSubscriptionTransport is returned when the dispatcher's publisher
	// cannot host subscriptions (pull-based deployments register on the
	// poller instead).
	ErrNoSubscriptionTransport = errors.New("publisher does not support subscriptions")

	// ErrCommandRejected marks a domain rejection from a decider. Rejections
	// leave the stream untouched; errors.Is against this sentinel separates
	// them from infrastructure faults.
	ErrCommandRejected = errors.New("command rejected")
)

// StreamRevisionConflictError reports that the stream moved past the expected
// revision between load and append. A conflict implies a competing writer
// already succeeded.
type StreamRevisionConflictError struct {
	Stream   string
	Expected Revision
	Actual   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("stream %q revision conflict: expected %d, at %d", e.Stream, e.Expected, e.Actual)
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// EventStoreError wraps backend faults so callers can distinguish them from
// domain rejections and conflicts.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &EventStoreError{Err: err}
}
