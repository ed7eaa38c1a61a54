package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cqrs "github.com/terraskye/tabflow"
)

type queuedSubscriber struct {
	name    string
	filter  func(cqrs.Event) bool
	handler cqrs.EventHandler
	queue   chan *cqrs.Envelope
	cancel  context.CancelFunc
}

// QueueBus hands each envelope to a buffered queue per subscriber; a worker
// goroutine drains each queue. A failing or slow projection cannot fail or
// block the command submission, at the cost of a bounded lag between commit
// and visibility. Handler errors and queue overflows surface on Errors().
type QueueBus struct {
	mu         sync.RWMutex
	subs       map[string]*queuedSubscriber
	order      []string
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int
	closed     bool
}

var _ cqrs.EventBus = (*QueueBus)(nil)

// NewQueueBus constructs a queued bus with the given per-subscriber buffer.
func NewQueueBus(bufferSize int) *QueueBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &QueueBus{
		subs:       make(map[string]*queuedSubscriber),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a handler and starts its worker.
func (b *QueueBus) Subscribe(ctx context.Context, name string, filter func(cqrs.Event) bool, handler cqrs.EventHandler, opts ...cqrs.SubscriberOption) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}
	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("subscriber with name %q already registered", name)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &queuedSubscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		queue:   make(chan *cqrs.Envelope, b.bufferSize),
		cancel:  cancel,
	}
	b.subs[name] = s
	b.order = append(b.order, name)

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	return nil
}

// Publish enqueues the envelopes for every matching subscriber. A full queue
// is reported on Errors() rather than dropped silently; the envelope is
// still durably in the store, so the projection's recovery path is a rebuild
// from its cursor.
func (b *QueueBus) Publish(ctx context.Context, envelopes []cqrs.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	for i := range envelopes {
		env := &envelopes[i]
		for _, name := range b.order {
			s := b.subs[name]
			if !s.filter(env.Event) {
				continue
			}
			select {
			case s.queue <- env:
			default:
				b.reportError(fmt.Errorf("subscriber %q: queue full, missed event %q at global position %d", s.name, env.Event.EventType(), env.GlobalVersion))
			}
		}
	}
	return nil
}

func (b *QueueBus) runSubscriber(ctx context.Context, s *queuedSubscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.handler.Handle(ctx, env); err != nil {
				b.reportError(fmt.Errorf("subscriber %q: %w", s.name, err))
			}
		}
	}
}

func (b *QueueBus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
		// Error channel full; the caller stopped reading.
	}
}

// Errors reports asynchronous handling failures and overflows.
func (b *QueueBus) Errors() <-chan error {
	return b.errs
}

// Close drains nothing further: workers are cancelled, queues closed and
// awaited. Idempotent.
func (b *QueueBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		s.cancel()
		close(s.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}
