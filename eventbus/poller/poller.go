// Package poller implements the pull-based publication strategy: each
// subscriber owns a cursor over the store's global sequence and refreshes on
// its own cadence. The dispatcher runs with a nil publisher; nothing sits in
// the command submission path at all. Starting from cursor zero doubles as
// the rebuild path for a projection whose in-memory state was lost.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cqrs "github.com/terraskye/tabflow"
)

// Poller drives subscribers from EventStore.LoadFromAll. Each subscriber
// gets its own goroutine and cursor, so a slow projection only delays
// itself. Per-stream delivery order is preserved because the global sequence
// respects commit order.
type Poller struct {
	store    cqrs.EventStore
	interval time.Duration

	mu     sync.Mutex
	names  map[string]struct{}
	cancel []context.CancelFunc
	errs   chan error
	wg     sync.WaitGroup
	closed bool
}

// New constructs a poller reading from store every interval.
func New(store cqrs.EventStore, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Poller{
		store:    store,
		interval: interval,
		names:    make(map[string]struct{}),
		errs:     make(chan error, 64),
	}
}

// Subscribe starts a polling loop for the handler, beginning at global
// position after (0 replays the full history).
func (p *Poller) Subscribe(ctx context.Context, name string, after uint64, filter func(cqrs.Event) bool, handler cqrs.EventHandler) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("poller is closed")
	}
	if _, exists := p.names[name]; exists {
		return fmt.Errorf("subscriber with name %q already registered", name)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	p.names[name] = struct{}{}
	p.cancel = append(p.cancel, cancel)

	p.wg.Add(1)
	go p.run(workerCtx, name, after, filter, handler)

	return nil
}

func (p *Poller) run(ctx context.Context, name string, cursor uint64, filter func(cqrs.Event) bool, handler cqrs.EventHandler) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		cursor = p.drain(ctx, name, cursor, filter, handler)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain delivers everything past the cursor and returns the new cursor. The
// cursor only advances past an event once its handler returned, so a failed
// delivery is retried on the next tick rather than dropped.
func (p *Poller) drain(ctx context.Context, name string, cursor uint64, filter func(cqrs.Event) bool, handler cqrs.EventHandler) uint64 {
	iter, err := p.store.LoadFromAll(ctx, cursor)
	if err != nil {
		p.reportError(fmt.Errorf("subscriber %q: load from %d: %w", name, cursor, err))
		return cursor
	}

	for iter.Next(ctx) {
		env := iter.Value()
		if filter(env.Event) {
			if err := handler.Handle(ctx, env); err != nil {
				p.reportError(fmt.Errorf("subscriber %q: %w", name, err))
				return cursor
			}
		}
		cursor = env.GlobalVersion
	}
	if err := iter.Err(); err != nil {
		p.reportError(fmt.Errorf("subscriber %q: iterate from %d: %w", name, cursor, err))
	}
	return cursor
}

func (p *Poller) reportError(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// Errors reports load and handler failures.
func (p *Poller) Errors() <-chan error {
	return p.errs
}

// Close stops all polling loops and waits for them. Idempotent.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, cancel := range p.cancel {
		cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	close(p.errs)
	return nil
}
