package tabflow

import "fmt"

// StateApplier folds one event kind into aggregate state. Values are created
// with Apply and composed with NewEvolver; the set an aggregate registers is
// resolved once at startup, so a missing or duplicate kind fails loudly
// before the first command runs.
type StateApplier[S any] interface {
	EventName() string
	apply(state S, event Event) S
}

type typedStateApplier[S any, T Event] func(state S, event T) S

func (f typedStateApplier[S, T]) EventName() string {
	var zero T
	return zero.EventType()
}

func (f typedStateApplier[S, T]) apply(state S, event Event) S {
	ev, ok := event.(T)
	if !ok {
		panic(fmt.Sprintf("tabflow: applier for %q received %T", f.EventName(), event))
	}
	return f(state, ev)
}

// Apply creates a StateApplier from a pure fold function for one event kind.
// The function must not touch the clock, storage or any external state: the
// command handler may re-run the whole fold after a concurrency conflict.
func Apply[S any, T Event](fn func(state S, event T) S) StateApplier[S] {
	return typedStateApplier[S, T](fn)
}

// NewEvolver composes per-kind appliers into an Evolver. It panics on a
// duplicate kind at construction, and the returned Evolver panics when asked
// to fold an event kind it has no applier for: an aggregate must declare
// handling for every kind it can ever produce for itself, so an unknown kind
// in its own stream is a configuration defect, not data.
func NewEvolver[S any](appliers ...StateApplier[S]) Evolver[S] {
	m := make(map[string]StateApplier[S], len(appliers))
	for _, a := range appliers {
		name := a.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("applier for event %q: %w", name, ErrDuplicateHandler))
		}
		m[name] = a
	}

	return func(state S, envelope *Envelope) S {
		a, ok := m[envelope.Event.EventType()]
		if !ok {
			panic(fmt.Sprintf("tabflow: no applier registered for event %q in stream %q", envelope.Event.EventType(), envelope.StreamID))
		}
		return a.apply(state, envelope.Event)
	}
}
