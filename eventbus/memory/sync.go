// Package memory provides in-process publication backends: SyncBus delivers
// inside the command submission (strong consistency, coupled failure
// domains) and QueueBus hands off to per-subscriber workers (failure
// isolation, eventual consistency).
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cqrs "github.com/terraskye/tabflow"
)

type syncSubscriber struct {
	name    string
	filter  func(cqrs.Event) bool
	handler cqrs.EventHandler
}

// SyncBus delivers each envelope to every matching subscriber, in
// registration order, on the publishing goroutine. A handler error aborts
// the remaining deliveries and is returned to the publisher, which is the
// coupling this strategy accepts in exchange for reads that are never stale.
type SyncBus struct {
	mu     sync.RWMutex
	subs   []syncSubscriber
	names  map[string]struct{}
	errs   chan error
	closed bool
}

var _ cqrs.EventBus = (*SyncBus)(nil)

// NewSyncBus constructs a synchronous in-process bus.
func NewSyncBus() *SyncBus {
	return &SyncBus{
		names: make(map[string]struct{}),
		errs:  make(chan error),
	}
}

// Subscribe registers a handler with a filter and a unique name.
func (b *SyncBus) Subscribe(ctx context.Context, name string, filter func(cqrs.Event) bool, handler cqrs.EventHandler, opts ...cqrs.SubscriberOption) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("subscriber with name %q already registered", name)
	}

	b.names[name] = struct{}{}
	b.subs = append(b.subs, syncSubscriber{name: name, filter: filter, handler: handler})
	return nil
}

// Publish delivers the envelopes in order. The first handler error is
// returned immediately.
func (b *SyncBus) Publish(ctx context.Context, envelopes []cqrs.Envelope) error {
	b.mu.RLock()
	subs := b.subs
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return errors.New("eventbus is closed")
	}

	for i := range envelopes {
		env := &envelopes[i]
		for _, s := range subs {
			if !s.filter(env.Event) {
				continue
			}
			if err := s.handler.Handle(ctx, env); err != nil {
				return fmt.Errorf("subscriber %q: event %q: %w", s.name, env.Event.EventType(), err)
			}
		}
	}
	return nil
}

// Errors is part of the EventBus contract; a synchronous bus reports
// failures on Publish instead, so the channel never carries anything.
func (b *SyncBus) Errors() <-chan error {
	return b.errs
}

// Close stops accepting publishes and subscriptions. Idempotent.
func (b *SyncBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.errs)
	return nil
}
