package tabflow

import (
	"context"
	"fmt"
	"sort"
)

// EventHandler processes one committed envelope. Projections receive the
// envelope rather than the bare event so they can see stream positions.
type EventHandler interface {
	Handle(ctx context.Context, envelope *Envelope) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function. There is
// no type filtering; use OnEvent for type-safe handlers.
func NewEventHandlerFunc(fn func(ctx context.Context, envelope *Envelope) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, envelope *Envelope) error

func (h eventHandlerFunc) Handle(ctx context.Context, envelope *Envelope) error {
	return h(ctx, envelope)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the name of the event type T, used for routing.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the envelope if its event matches T. The envelope's
// positions and metadata are made available on the context (see WithEnvelope).
func (h typedEventHandler[T]) Handle(ctx context.Context, envelope *Envelope) error {
	ev, ok := envelope.Event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: envelope.Event}
	}
	return h(WithEnvelope(ctx, envelope), ev)
}

// OnEvent creates a strongly-typed EventHandler for one event kind. Handlers
// created this way carry their event name, so an EventGroupProcessor can
// route by kind and publish the group's interest set.
//
//	group := NewEventGroupProcessor(
//	    OnEvent(p.onTabOpened),
//	    OnEvent(p.onDrinksOrdered),
//	)
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor routes envelopes to typed handlers by event kind.
// The routing table is built once at construction; duplicate kinds panic so
// miswiring surfaces at startup, not at first delivery.
type EventGroupProcessor struct {
	handlers map[string]EventHandler
}

// NewEventGroupProcessor builds a group from typed handlers (created via
// OnEvent). It panics if a handler does not expose an event name or if two
// handlers claim the same kind.
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not expose EventName()", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("handler for event %q: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{handlers: m}
}

// Handle routes the envelope to the handler for its event kind.
// Returns *ErrSkippedEvent if the group has no handler for it.
func (p *EventGroupProcessor) Handle(ctx context.Context, envelope *Envelope) error {
	h, ok := p.handlers[envelope.Event.EventType()]
	if !ok {
		return &ErrSkippedEvent{Event: envelope.Event}
	}
	return h.Handle(ctx, envelope)
}

// StreamFilter returns the sorted event kinds this group handles. The
// dispatcher uses it to subscribe a projection only to the kinds it declares
// interest in.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
