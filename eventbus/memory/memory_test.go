package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cqrs "github.com/terraskye/tabflow"
	"github.com/terraskye/tabflow/eventbus/memory"
)

type noteAdded struct {
	ID   string
	Text string
}

func (e noteAdded) AggregateID() string { return e.ID }
func (e noteAdded) EventType() string   { return "note.added" }

type noteRemoved struct {
	ID string
}

func (e noteRemoved) AggregateID() string { return e.ID }
func (e noteRemoved) EventType() string   { return "note.removed" }

func envelopeOf(ev cqrs.Event) cqrs.Envelope {
	return cqrs.Envelope{StreamID: ev.AggregateID(), Event: ev, Version: 1, GlobalVersion: 1}
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []cqrs.Event
	err  error
}

func (h *recordingHandler) Handle(ctx context.Context, env *cqrs.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.seen = append(h.seen, env.Event)
	return nil
}

func (h *recordingHandler) events() []cqrs.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]cqrs.Event, len(h.seen))
	copy(out, h.seen)
	return out
}

func all(cqrs.Event) bool { return true }

func TestSyncBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := memory.NewSyncBus()
	defer bus.Close()
	ctx := context.Background()

	var order []string
	first := cqrs.NewEventHandlerFunc(func(ctx context.Context, env *cqrs.Envelope) error {
		order = append(order, "first")
		return nil
	})
	second := cqrs.NewEventHandlerFunc(func(ctx context.Context, env *cqrs.Envelope) error {
		order = append(order, "second")
		return nil
	})

	if err := bus.Subscribe(ctx, "first", all, first); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe(ctx, "second", all, second); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, []cqrs.Envelope{envelopeOf(noteAdded{ID: "n1"})}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("wrong delivery order: %v", order)
	}
}

func TestSyncBus_FilterSkipsUndeclaredKinds(t *testing.T) {
	bus := memory.NewSyncBus()
	defer bus.Close()
	ctx := context.Background()

	h := &recordingHandler{}
	if err := bus.Subscribe(ctx, "notes", cqrs.InterestFilter("note.added"), h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, []cqrs.Envelope{
		envelopeOf(noteAdded{ID: "n1"}),
		envelopeOf(noteRemoved{ID: "n1"}),
		envelopeOf(noteAdded{ID: "n2"}),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := h.events(); len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestSyncBus_HandlerErrorReturnsFromPublish(t *testing.T) {
	bus := memory.NewSyncBus()
	defer bus.Close()
	ctx := context.Background()

	boom := errors.New("projection broken")
	h := &recordingHandler{err: boom}
	if err := bus.Subscribe(ctx, "broken", all, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := bus.Publish(ctx, []cqrs.Envelope{envelopeOf(noteAdded{ID: "n1"})})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error from Publish, got %v", err)
	}
}

func TestSyncBus_DuplicateNameRejected(t *testing.T) {
	bus := memory.NewSyncBus()
	defer bus.Close()
	ctx := context.Background()

	h := &recordingHandler{}
	if err := bus.Subscribe(ctx, "dup", all, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe(ctx, "dup", all, h); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
}

func TestQueueBus_DeliversAsynchronously(t *testing.T) {
	bus := memory.NewQueueBus(16)
	ctx := context.Background()

	h := &recordingHandler{}
	if err := bus.Subscribe(ctx, "notes", all, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, []cqrs.Envelope{
		envelopeOf(noteAdded{ID: "n1", Text: "a"}),
		envelopeOf(noteAdded{ID: "n1", Text: "b"}),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(h.events()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for deliveries, got %d", len(h.events()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := h.events()
	if got[0].(noteAdded).Text != "a" || got[1].(noteAdded).Text != "b" {
		t.Fatalf("deliveries out of order: %v", got)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestQueueBus_HandlerErrorDoesNotFailPublish(t *testing.T) {
	bus := memory.NewQueueBus(16)
	ctx := context.Background()

	boom := errors.New("projection broken")
	h := &recordingHandler{err: boom}
	if err := bus.Subscribe(ctx, "broken", all, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, []cqrs.Envelope{envelopeOf(noteAdded{ID: "n1"})}); err != nil {
		t.Fatalf("publish must not fail on async handler error: %v", err)
	}

	select {
	case err := <-bus.Errors():
		if !errors.Is(err, boom) {
			t.Fatalf("expected handler error on Errors(), got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error")
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestQueueBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := memory.NewQueueBus(16)
	ctx := context.Background()

	release := make(chan struct{})
	slow := cqrs.NewEventHandlerFunc(func(ctx context.Context, env *cqrs.Envelope) error {
		<-release
		return nil
	})
	fast := &recordingHandler{}

	if err := bus.Subscribe(ctx, "slow", all, slow); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe(ctx, "fast", all, fast); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, []cqrs.Envelope{envelopeOf(noteAdded{ID: "n1"})}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(fast.events()) < 1 {
		select {
		case <-deadline:
			t.Fatalf("fast subscriber starved by slow one")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
