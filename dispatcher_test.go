package tabflow

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

type otherCommand struct {
	agg string
}

func (c otherCommand) AggregateID() string { return c.agg }

type publisherStub struct {
	mu        sync.Mutex
	published []Envelope
	err       error
}

func (p *publisherStub) Publish(ctx context.Context, envelopes []Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, envelopes...)
	return nil
}

func appendingHandler(store EventStore) CommandHandler[testCommand] {
	return NewCommandHandler(
		store,
		0,
		func(s int, e *Envelope) int { return s + 1 },
		func(state int, cmd testCommand) ([]Event, error) {
			return []Event{testEvent{agg: cmd.agg, typ: "t", val: cmd.val}}, nil
		},
	)
}

func passthroughStore() *testStore {
	store := &testStore{}
	store.loadFn = func(ctx context.Context, stream string, from uint64) (*Iterator[*Envelope], error) {
		return NewSliceIterator[*Envelope](nil), nil
	}
	store.saveFn = func(ctx context.Context, envelopes []Envelope, revision StreamState) (AppendResult, error) {
		return AppendResult{Successful: true, StreamID: envelopes[0].StreamID, NextExpectedVersion: 1, Events: envelopes}, nil
	}
	return store
}

func TestDispatcher_SubmitRoutesToHandler(t *testing.T) {
	pub := &publisherStub{}
	d := NewDispatcher(pub)
	defer d.Stop()

	RegisterHandler(d, appendingHandler(passthroughStore()))

	res, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1", val: "x"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Successful {
		t.Fatalf("expected successful result")
	}
}

func TestDispatcher_UnhandledCommand(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Stop()

	_, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"})
	if !errors.Is(err, ErrUnhandledCommand) {
		t.Fatalf("expected ErrUnhandledCommand, got %v", err)
	}
}

func TestDispatcher_DuplicateHandlerPanics(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Stop()

	RegisterHandler(d, appendingHandler(passthroughStore()))

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate handler registration")
		}
	}()
	RegisterHandler(d, appendingHandler(passthroughStore()))
}

func TestDispatcher_PublishesCommittedEvents(t *testing.T) {
	pub := &publisherStub{}
	d := NewDispatcher(pub)
	defer d.Stop()

	RegisterHandler(d, appendingHandler(passthroughStore()))

	if _, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1", val: "a"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published envelope, got %d", len(pub.published))
	}
	if pub.published[0].Event.(testEvent).val != "a" {
		t.Fatalf("published wrong event: %+v", pub.published[0].Event)
	}
}

func TestDispatcher_RejectionPublishesNothing(t *testing.T) {
	rejection := errors.New("no")

	store := passthroughStore()
	pub := &publisherStub{}
	d := NewDispatcher(pub)
	defer d.Stop()

	RegisterHandler(d, NewCommandHandler(
		store,
		0,
		func(s int, e *Envelope) int { return s },
		func(state int, cmd testCommand) ([]Event, error) { return nil, rejection },
	))

	_, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"})
	if !errors.Is(err, rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 0 {
		t.Fatalf("rejected command must publish nothing, got %d envelopes", len(pub.published))
	}
	if store.saveCalled != 0 {
		t.Fatalf("rejected command must not touch the store, save called %d times", store.saveCalled)
	}
}

func TestDispatcher_PublishFailureSurfaces(t *testing.T) {
	pub := &publisherStub{err: errors.New("broker down")}
	d := NewDispatcher(pub)
	defer d.Stop()

	RegisterHandler(d, appendingHandler(passthroughStore()))

	_, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"})
	if err == nil || !errors.Is(err, pub.err) {
		t.Fatalf("expected publish error to surface, got %v", err)
	}
}

func TestDispatcher_SameAggregateSerializesInOrder(t *testing.T) {
	pub := &publisherStub{}
	d := NewDispatcher(pub, WithShardCount(8))
	defer d.Stop()

	store := passthroughStore()
	RegisterHandler(d, appendingHandler(store))

	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1", val: "v"}); err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != n {
		t.Fatalf("expected %d published envelopes, got %d", n, len(pub.published))
	}
}

func TestDispatcher_RegisterProjectionAfterStartFails(t *testing.T) {
	bus := &busStub{}
	d := NewDispatcher(bus)
	defer d.Stop()

	RegisterHandler(d, appendingHandler(passthroughStore()))
	if _, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	err := d.RegisterProjection(context.Background(), &projectionStub{name: "late"})
	if !errors.Is(err, ErrRegistrationClosed) {
		t.Fatalf("expected ErrRegistrationClosed, got %v", err)
	}
}

func TestDispatcher_RegisterProjectionNeedsSubscriptionTransport(t *testing.T) {
	d := NewDispatcher(&publisherStub{})
	defer d.Stop()

	err := d.RegisterProjection(context.Background(), &projectionStub{name: "p"})
	if !errors.Is(err, ErrNoSubscriptionTransport) {
		t.Fatalf("expected ErrNoSubscriptionTransport, got %v", err)
	}
}

func TestDispatcher_RegisterProjectionSubscribes(t *testing.T) {
	bus := &busStub{}
	d := NewDispatcher(bus)
	defer d.Stop()

	p := &projectionStub{name: "p", kinds: []string{"t"}}
	if err := d.RegisterProjection(context.Background(), p); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(bus.subscribed) != 1 || bus.subscribed[0] != "p" {
		t.Fatalf("expected subscription for %q, got %v", "p", bus.subscribed)
	}
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := NewDispatcher(nil)
	RegisterHandler(d, appendingHandler(passthroughStore()))
	d.Stop()

	if _, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"}); err == nil {
		t.Fatalf("expected error after Stop")
	}
}

func TestDispatcher_StopDuringSubmissionsDoesNotPanic(t *testing.T) {
	d := NewDispatcher(nil, WithShardCount(2))
	RegisterHandler(d, appendingHandler(passthroughStore()))

	// Submissions racing Stop either complete or are refused; none may send
	// on a closed shard queue.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = d.SubmitCommand(context.Background(), testCommand{agg: "tab-1", val: strconv.Itoa(n)})
			}
		}(i)
	}

	d.Stop()
	wg.Wait()

	// Stop twice is fine.
	d.Stop()

	if _, err := d.SubmitCommand(context.Background(), testCommand{agg: "tab-1"}); err == nil {
		t.Fatalf("expected error after Stop")
	}
}

// busStub implements EventBus just enough for registration tests.
type busStub struct {
	publisherStub
	subscribed []string
}

func (b *busStub) Subscribe(ctx context.Context, name string, filter func(Event) bool, handler EventHandler, opts ...SubscriberOption) error {
	b.subscribed = append(b.subscribed, name)
	return nil
}
func (b *busStub) Errors() <-chan error { return nil }
func (b *busStub) Close() error         { return nil }

type projectionStub struct {
	name  string
	kinds []string
}

func (p *projectionStub) Handle(ctx context.Context, envelope *Envelope) error { return nil }
func (p *projectionStub) ProjectionName() string                               { return p.name }
func (p *projectionStub) StreamFilter() []string                               { return p.kinds }
