// Package memory provides the reference in-memory event store. It is the
// backend the engine's own tests run against and a usable store for
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/terraskye/tabflow"
)

// Store keeps every stream in memory. Appends to the same stream serialize
// on a per-stream mutex; appends to distinct streams only share the short
// critical sections that assign global positions, so independent aggregates
// do not contend.
type Store struct {
	mu      sync.RWMutex // guards streams, global and locks
	locks   map[string]*sync.Mutex
	streams map[string][]*tabflow.Envelope
	global  []*tabflow.Envelope
	closed  bool
}

var _ tabflow.EventStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		locks:   make(map[string]*sync.Mutex),
		streams: make(map[string][]*tabflow.Envelope),
	}
}

func (s *Store) streamLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Save appends the batch atomically. The version check and the append happen
// under the stream's lock, so a conflict can only mean a competing writer
// already committed.
func (s *Store) Save(ctx context.Context, events []tabflow.Envelope, revision tabflow.StreamState) (tabflow.AppendResult, error) {
	if len(events) == 0 {
		return tabflow.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return tabflow.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has stream ID %q",
				streamID, tabflow.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	lock := s.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	currentVersion := tabflow.Revision(len(s.streams[streamID]))
	s.mu.RUnlock()

	switch rev := revision.(type) {
	case tabflow.Any:
		// No concurrency check.
	case tabflow.NoStream:
		if currentVersion != 0 {
			return tabflow.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, tabflow.ErrStreamExists)
		}
	case tabflow.StreamExists:
		if currentVersion == 0 {
			return tabflow.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, tabflow.ErrStreamNotFound)
		}
	case tabflow.Revision:
		if currentVersion != rev {
			return tabflow.AppendResult{}, &tabflow.StreamRevisionConflictError{
				Stream:   streamID,
				Expected: rev,
				Actual:   currentVersion,
			}
		}
	default:
		return tabflow.AppendResult{}, fmt.Errorf("unsupported revision type %T for stream %q: %w", rev, streamID, tabflow.ErrInvalidRevision)
	}

	committed := make([]tabflow.Envelope, len(events))

	s.mu.Lock()
	version := uint64(currentVersion)
	for i := range events {
		version++
		stored := events[i]
		stored.Version = version
		stored.GlobalVersion = uint64(len(s.global)) + 1

		committed[i] = stored
		s.streams[streamID] = append(s.streams[streamID], &committed[i])
		s.global = append(s.global, &committed[i])
	}
	s.mu.Unlock()

	return tabflow.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: version,
		Events:              committed,
	}, nil
}

// LoadStream yields the stream's history. An unknown stream yields an empty
// iterator: no history is a valid state, not an error.
func (s *Store) LoadStream(ctx context.Context, id string) (*tabflow.Iterator[*tabflow.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom yields events with Version greater than version.
func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*tabflow.Iterator[*tabflow.Envelope], error) {
	s.mu.RLock()
	events := s.streams[id]
	s.mu.RUnlock()

	if version >= uint64(len(events)) {
		return tabflow.NewSliceIterator[*tabflow.Envelope](nil), nil
	}
	return tabflow.NewSliceIterator(events[version:]), nil
}

// LoadFromAll yields all events with GlobalVersion greater than after, in
// commit order.
func (s *Store) LoadFromAll(ctx context.Context, after uint64) (*tabflow.Iterator[*tabflow.Envelope], error) {
	s.mu.RLock()
	all := s.global
	s.mu.RUnlock()

	if after >= uint64(len(all)) {
		return tabflow.NewSliceIterator[*tabflow.Envelope](nil), nil
	}
	return tabflow.NewSliceIterator(all[after:]), nil
}

// Close discards all streams. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]*tabflow.Envelope)
	s.locks = make(map[string]*sync.Mutex)
	s.global = nil
	s.closed = true
	return nil
}
