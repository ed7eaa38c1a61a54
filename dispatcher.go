package tabflow

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// queuedCommand is a command waiting on a shard queue, with the caller's
// context and a channel to return the outcome.
type queuedCommand struct {
	Ctx        context.Context
	Command    Command
	ResponseCh chan<- commandResult
}

type commandResult struct {
	Result AppendResult
	Err    error
}

// Dispatcher wires command handlers, the event store and a publication
// backend into one submit operation.
//
// Commands are routed to shard queues by aggregate ID, so submissions
// against the same aggregate are serialized on one worker while distinct
// aggregates proceed in parallel. After a handler's append succeeds the
// worker publishes the committed envelopes, in commit order, through the
// configured Publisher; rejections and conflicts surface to the caller and
// nothing is published.
type Dispatcher struct {
	handlers   map[string]func(ctx context.Context, command Command) (AppendResult, error)
	queues     []chan queuedCommand
	wg         sync.WaitGroup
	mu         sync.RWMutex
	shardCount int
	publisher  Publisher
	started    atomic.Bool

	// stateMu makes the stopped check and the wg.Add of an admitted
	// submission atomic against Stop, so a queue is never closed under a
	// sender.
	stateMu sync.Mutex
	stopped bool
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	shardCount  int
	queueBuffer int
}

// WithShardCount sets how many worker queues commands are sharded over.
func WithShardCount(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.shardCount = n }
}

// WithQueueBuffer sets the per-shard queue capacity.
func WithQueueBuffer(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.queueBuffer = n }
}

// NewDispatcher creates a dispatcher publishing through the given Publisher.
// A nil publisher is valid for pull-based deployments where projections poll
// the store themselves.
func NewDispatcher(publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	cfg := &dispatcherConfig{shardCount: 4, queueBuffer: 64}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.shardCount <= 0 {
		cfg.shardCount = 1
	}

	d := &Dispatcher{
		handlers:   make(map[string]func(ctx context.Context, command Command) (AppendResult, error)),
		queues:     make([]chan queuedCommand, cfg.shardCount),
		shardCount: cfg.shardCount,
		publisher:  publisher,
	}

	for i := 0; i < cfg.shardCount; i++ {
		d.queues[i] = make(chan queuedCommand, cfg.queueBuffer)
		go d.worker(d.queues[i])
	}

	return d
}

// SubmitCommand enqueues the command on its aggregate's shard and waits for
// the outcome. It is the only mutation path into the core and is safe to
// call concurrently.
//
// The error reports one of: a domain rejection from the decider, a
// *StreamRevisionConflictError once the retry budget is spent,
// ErrUnhandledCommand for an unregistered command type, or a backend fault.
func (d *Dispatcher) SubmitCommand(ctx context.Context, cmd Command) (AppendResult, error) {
	d.stateMu.Lock()
	if d.stopped {
		d.stateMu.Unlock()
		return AppendResult{}, fmt.Errorf("dispatcher is stopped")
	}
	d.wg.Add(1)
	d.stateMu.Unlock()
	defer d.wg.Done()

	d.started.Store(true)

	responseCh := make(chan commandResult, 1)

	shard := d.shardFor(cmd.AggregateID())

	select {
	case d.queues[shard] <- queuedCommand{Ctx: ctx, Command: cmd, ResponseCh: responseCh}:
		select {
		case result := <-responseCh:
			return result.Result, result.Err
		case <-ctx.Done():
			return AppendResult{}, ctx.Err()
		}
	case <-ctx.Done():
		return AppendResult{}, ctx.Err()
	}
}

// RegisterProjection subscribes a projection to the kinds it declares
// interest in. Registration happens once at process start: it fails with
// ErrRegistrationClosed after the first command has been accepted, and with
// ErrNoSubscriptionTransport when the publisher cannot host subscriptions.
func (d *Dispatcher) RegisterProjection(ctx context.Context, p Projection) error {
	if d.started.Load() {
		return fmt.Errorf("register projection %q: %w", p.ProjectionName(), ErrRegistrationClosed)
	}

	bus, ok := d.publisher.(EventBus)
	if !ok {
		return fmt.Errorf("register projection %q: %w", p.ProjectionName(), ErrNoSubscriptionTransport)
	}

	return bus.Subscribe(ctx, p.ProjectionName(), InterestFilter(p.StreamFilter()...), p)
}

// worker drains one shard queue. Publication happens here, after the handler
// has durably committed, so per-aggregate publish order matches commit order.
func (d *Dispatcher) worker(queue chan queuedCommand) {
	for cmd := range queue {
		cmdName := fmt.Sprintf("%T", cmd.Command)

		d.mu.RLock()
		h, exists := d.handlers[cmdName]
		d.mu.RUnlock()

		if !exists {
			cmd.ResponseCh <- commandResult{
				Err: fmt.Errorf("command %s: %w", cmdName, ErrUnhandledCommand),
			}
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					cmd.ResponseCh <- commandResult{
						Err: fmt.Errorf("panic in handler for %s: %v", cmdName, r),
					}
				}
			}()

			res, err := h(cmd.Ctx, cmd.Command)
			if err == nil && res.Successful && len(res.Events) > 0 && d.publisher != nil {
				if perr := d.publisher.Publish(cmd.Ctx, res.Events); perr != nil {
					err = fmt.Errorf("publish %d committed events for stream %q: %w", len(res.Events), res.StreamID, perr)
				}
			}
			cmd.ResponseCh <- commandResult{Result: res, Err: err}
		}()
	}
}

func (d *Dispatcher) shardFor(aggregateID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(aggregateID))
	return int(hash.Sum32()) % d.shardCount
}

// RegisterHandler adds a typed command handler to the dispatcher. The command
// type name is derived automatically; registering two handlers for the same
// command type panics, so miswiring fails at startup.
func RegisterHandler[C Command](d *Dispatcher, handler CommandHandler[C]) {
	cmdName := fmt.Sprintf("%T", *new(C))
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[cmdName]; exists {
		panic(fmt.Errorf("handler for command type %s: %w", cmdName, ErrDuplicateHandler))
	}

	d.handlers[cmdName] = func(ctx context.Context, cmd Command) (AppendResult, error) {
		c, ok := cmd.(C)
		if !ok {
			return AppendResult{}, fmt.Errorf("expected command type %s but got %T", cmdName, cmd)
		}
		return handler(ctx, c)
	}
}

// Stop shuts the dispatcher down: new submissions are refused, admitted ones
// finish, then Stop returns. Admission and the stop flag flip under the same
// lock, so every submission that passed the check is counted before Wait and
// the queues close only after the last sender is done. Stop is idempotent.
func (d *Dispatcher) Stop() {
	d.stateMu.Lock()
	if d.stopped {
		d.stateMu.Unlock()
		return
	}
	d.stopped = true
	d.stateMu.Unlock()

	d.wg.Wait()
	for _, q := range d.queues {
		close(q)
	}
}
