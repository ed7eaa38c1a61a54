package tabflow

import "context"

// SubscriberOption configures a subscription on a concrete bus.
type SubscriberOption func(cfg any)

// Publisher delivers durably-committed envelopes to interested consumers.
// The dispatcher calls Publish once per successful append, after the retry
// loop has resolved, with the envelopes in commit order. Which consistency
// strategy backs delivery (synchronous in-process, queued hand-off, broker)
// is the implementation's choice; the dispatcher contract does not care.
type Publisher interface {
	Publish(ctx context.Context, envelopes []Envelope) error
}

// EventBus is a Publisher that also hosts subscriptions. Per-stream delivery
// order follows commit order; no ordering is guaranteed across streams.
type EventBus interface {
	Publisher

	// Subscribe registers a named handler with an event filter. The filter
	// runs before delivery, so a subscriber never sees kinds it did not
	// declare interest in. Names must be unique per bus.
	Subscribe(ctx context.Context, name string, filter func(Event) bool, handler EventHandler, options ...SubscriberOption) error

	// Errors reports asynchronous handling failures.
	Errors() <-chan error

	// Close shuts the bus down and waits for in-flight deliveries.
	Close() error
}

// InterestFilter builds a Subscribe filter from a set of event kinds.
func InterestFilter(kinds ...string) func(Event) bool {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev Event) bool {
		_, ok := set[ev.EventType()]
		return ok
	}
}
