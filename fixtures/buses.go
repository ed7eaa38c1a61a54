package fixtures

import (
	"context"
	"sync"

	es "github.com/terraskye/tabflow"
)

// PublisherSpy records every published envelope in order.
type PublisherSpy struct {
	mu sync.Mutex

	PublishFn func(ctx context.Context, envelopes []es.Envelope) error

	PublishCalls int
	Published    []es.Envelope

	publishErr error
}

// NewPublisherSpy creates a new PublisherSpy.
func NewPublisherSpy() *PublisherSpy {
	return &PublisherSpy{}
}

// FailOnPublish configures the publisher to return an error.
func (p *PublisherSpy) FailOnPublish(err error) *PublisherSpy {
	p.publishErr = err
	return p
}

// Publish implements Publisher.Publish.
func (p *PublisherSpy) Publish(ctx context.Context, envelopes []es.Envelope) error {
	p.mu.Lock()
	p.PublishCalls++
	p.Published = append(p.Published, envelopes...)
	p.mu.Unlock()

	if p.PublishFn != nil {
		return p.PublishFn(ctx, envelopes)
	}
	return p.publishErr
}

// PublishedEvents returns the published events in order.
func (p *PublisherSpy) PublishedEvents() []es.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]es.Event, len(p.Published))
	for i, env := range p.Published {
		out[i] = env.Event
	}
	return out
}

// EventBusSpy is a configurable mock EventBus for testing. It tracks
// subscriptions; DeliverTo pushes envelopes through them manually.
type EventBusSpy struct {
	PublisherSpy

	mu sync.Mutex

	SubscribeCalls int
	CloseCalls     int
	Subscriptions  []Subscription

	subscribeErr error
	errChan      chan error
	closed       bool
}

// Subscription captures details of a Subscribe call.
type Subscription struct {
	Name    string
	Filter  func(es.Event) bool
	Handler es.EventHandler
}

// NewEventBusSpy creates a new EventBusSpy.
func NewEventBusSpy() *EventBusSpy {
	return &EventBusSpy{
		errChan: make(chan error, 10),
	}
}

// FailOnSubscribe configures the bus to return an error on Subscribe.
func (b *EventBusSpy) FailOnSubscribe(err error) *EventBusSpy {
	b.subscribeErr = err
	return b
}

// Subscribe implements EventBus.Subscribe.
func (b *EventBusSpy) Subscribe(ctx context.Context, name string, filter func(es.Event) bool, handler es.EventHandler, opts ...es.SubscriberOption) error {
	b.mu.Lock()
	b.SubscribeCalls++
	b.Subscriptions = append(b.Subscriptions, Subscription{
		Name:    name,
		Filter:  filter,
		Handler: handler,
	})
	b.mu.Unlock()

	return b.subscribeErr
}

// DeliverTo pushes an envelope through the named subscription, respecting
// its filter.
func (b *EventBusSpy) DeliverTo(ctx context.Context, name string, envelope *es.Envelope) error {
	b.mu.Lock()
	var sub *Subscription
	for i := range b.Subscriptions {
		if b.Subscriptions[i].Name == name {
			sub = &b.Subscriptions[i]
			break
		}
	}
	b.mu.Unlock()

	if sub == nil || !sub.Filter(envelope.Event) {
		return nil
	}
	return sub.Handler.Handle(ctx, envelope)
}

// HasSubscription checks if a subscription with the given name exists.
func (b *EventBusSpy) HasSubscription(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.Subscriptions {
		if sub.Name == name {
			return true
		}
	}
	return false
}

// Errors implements EventBus.Errors.
func (b *EventBusSpy) Errors() <-chan error {
	return b.errChan
}

// Close implements EventBus.Close.
func (b *EventBusSpy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.CloseCalls++
	if !b.closed {
		b.closed = true
		close(b.errChan)
	}
	return nil
}

// EnvelopeHandlerSpy records every envelope a handler receives.
type EnvelopeHandlerSpy struct {
	mu sync.Mutex

	HandleFn func(ctx context.Context, envelope *es.Envelope) error

	HandleCalls int
	Received    []*es.Envelope

	handleErr error
}

// NewEnvelopeHandlerSpy creates a new EnvelopeHandlerSpy.
func NewEnvelopeHandlerSpy() *EnvelopeHandlerSpy {
	return &EnvelopeHandlerSpy{}
}

// FailOnHandle configures the handler to return an error.
func (h *EnvelopeHandlerSpy) FailOnHandle(err error) *EnvelopeHandlerSpy {
	h.handleErr = err
	return h
}

// Handle implements EventHandler.Handle.
func (h *EnvelopeHandlerSpy) Handle(ctx context.Context, envelope *es.Envelope) error {
	h.mu.Lock()
	h.HandleCalls++
	h.Received = append(h.Received, envelope)
	h.mu.Unlock()

	if h.HandleFn != nil {
		return h.HandleFn(ctx, envelope)
	}
	return h.handleErr
}

// ReceivedEvents returns the received events in order.
func (h *EnvelopeHandlerSpy) ReceivedEvents() []es.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]es.Event, len(h.Received))
	for i, env := range h.Received {
		out[i] = env.Event
	}
	return out
}

// EventCount returns the number of envelopes received.
func (h *EnvelopeHandlerSpy) EventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Received)
}
