// Package redis publishes committed envelopes through a Redis channel, so
// projections can run in other processes and a failing projection never sits
// in the command submission path. Event payloads travel as JSON and are
// rehydrated on the consumer side through the event registry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	cqrs "github.com/terraskye/tabflow"
)

// wireEnvelope is the channel representation of an Envelope.
type wireEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Bus is an EventBus over one Redis pub/sub channel. Each subscriber holds
// its own PubSub connection, so every subscriber sees every published event
// and applies its own filter.
type Bus struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	cancel []context.CancelFunc
	names  map[string]struct{}
	errs   chan error
	wg     sync.WaitGroup
	closed bool
}

var _ cqrs.EventBus = (*Bus)(nil)

// NewBus constructs a bus publishing on the given channel.
func NewBus(client *redis.Client, channel string) *Bus {
	return &Bus{
		client:  client,
		channel: channel,
		names:   make(map[string]struct{}),
		errs:    make(chan error, 64),
	}
}

// Publish sends the envelopes to the channel in order.
func (b *Bus) Publish(ctx context.Context, envelopes []cqrs.Envelope) error {
	for i := range envelopes {
		env := &envelopes[i]

		data, err := json.Marshal(env.Event)
		if err != nil {
			return fmt.Errorf("marshal event %q: %w", env.Event.EventType(), err)
		}

		payload, err := json.Marshal(wireEnvelope{
			EventID:       env.EventID,
			StreamID:      env.StreamID,
			Metadata:      env.Metadata,
			EventType:     env.Event.EventType(),
			Data:          data,
			Version:       env.Version,
			GlobalVersion: env.GlobalVersion,
			OccurredAt:    env.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("marshal envelope for event %q: %w", env.Event.EventType(), err)
		}

		if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish event %q to channel %q: %w", env.Event.EventType(), b.channel, err)
		}
	}
	return nil
}

// Subscribe opens a dedicated PubSub connection for the handler and starts a
// consumer goroutine. The subscription is confirmed before Subscribe
// returns, so events published afterwards are not missed.
func (b *Bus) Subscribe(ctx context.Context, name string, filter func(cqrs.Event) bool, handler cqrs.EventHandler, opts ...cqrs.SubscriberOption) error {
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

	workerCtx, cancel := context.WithCancel(context.Background())

	pubsub := b.client.Subscribe(workerCtx, b.channel)
	if _, err := pubsub.Receive(workerCtx); err != nil {
		cancel()
		pubsub.Close()
		return fmt.Errorf("subscribe %q to channel %q: %w", name, b.channel, err)
	}

	b.names[name] = struct{}{}
	b.cancel = append(b.cancel, func() {
		cancel()
		pubsub.Close()
	})

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, name, pubsub, filter, handler)

	return nil
}

func (b *Bus) runSubscriber(ctx context.Context, name string, pubsub *redis.PubSub, filter func(cqrs.Event) bool, handler cqrs.EventHandler) {
	defer b.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.reportError(fmt.Errorf("subscriber %q: %w", name, err))
				continue
			}

			if !filter(env.Event) {
				continue
			}
			if err := handler.Handle(ctx, env); err != nil {
				b.reportError(fmt.Errorf("subscriber %q: %w", name, err))
			}
		}
	}
}

func decodeEnvelope(payload []byte) (*cqrs.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	ev, err := cqrs.UnmarshalEventJSON(wire.EventType, wire.Data)
	if err != nil {
		return nil, err
	}

	return &cqrs.Envelope{
		EventID:       wire.EventID,
		StreamID:      wire.StreamID,
		Metadata:      wire.Metadata,
		Event:         ev,
		Version:       wire.Version,
		GlobalVersion: wire.GlobalVersion,
		OccurredAt:    wire.OccurredAt,
	}, nil
}

func (b *Bus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

// Errors reports decode and handler failures.
func (b *Bus) Errors() <-chan error {
	return b.errs
}

// Close cancels all consumers and waits for them. The Redis client itself is
// owned by the caller and stays open. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancel {
		cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}
