// Package disk provides a durable event store that writes one JSON document
// per event under a base directory, with a global sequence mirrored in an
// all/ directory for cross-stream reads.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cqrs "github.com/terraskye/tabflow"
)

var _ cqrs.EventStore = (*Store)(nil)

// Store persists each event as <stream>/<version>-<kind>.json. Event
// payloads are rehydrated through the event registry, so every kind a stream
// can contain must be registered before loading.
type Store struct {
	baseDir   string
	mu        sync.Mutex
	globalSeq uint64
}

// NewStore opens (or creates) a store rooted at dir and recovers the global
// sequence from the all/ directory.
func NewStore(dir string) (*Store, error) {
	allDir := filepath.Join(dir, "all")
	if err := os.MkdirAll(allDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	entries, err := os.ReadDir(allDir)
	if err != nil {
		return nil, fmt.Errorf("recover global sequence: %w", err)
	}

	return &Store{
		baseDir:   dir,
		globalSeq: uint64(len(entries)),
	}, nil
}

func (s *Store) streamDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// Save appends the batch under the store lock. The version check counts the
// stream's files, so the check and the writes are atomic with respect to
// other in-process writers.
func (s *Store) Save(ctx context.Context, events []cqrs.Envelope, revision cqrs.StreamState) (cqrs.AppendResult, error) {
	if len(events) == 0 {
		return cqrs.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return cqrs.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has stream ID %q",
				streamID, cqrs.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sdir := s.streamDir(streamID)
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}

	files, err := os.ReadDir(sdir)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}
	currentVersion := cqrs.Revision(len(files))

	switch rev := revision.(type) {
	case cqrs.Any:
		// No concurrency check.
	case cqrs.NoStream:
		if currentVersion != 0 {
			return cqrs.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, cqrs.ErrStreamExists)
		}
	case cqrs.StreamExists:
		if currentVersion == 0 {
			return cqrs.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, cqrs.ErrStreamNotFound)
		}
	case cqrs.Revision:
		if currentVersion != rev {
			return cqrs.AppendResult{}, &cqrs.StreamRevisionConflictError{
				Stream:   streamID,
				Expected: rev,
				Actual:   currentVersion,
			}
		}
	default:
		return cqrs.AppendResult{}, fmt.Errorf("unsupported revision type %T for stream %q: %w", rev, streamID, cqrs.ErrInvalidRevision)
	}

	if ctx.Err() != nil {
		return cqrs.AppendResult{}, ctx.Err()
	}

	// Stage the whole batch before touching the filesystem: positions and
	// documents are prepared first, then every file is written, and any write
	// failure unlinks what was already written. The version check counts the
	// stream's files, so a phantom file from a half-written batch would shift
	// the stream's numbering permanently.
	allDir := filepath.Join(s.baseDir, "all")
	committed := make([]cqrs.Envelope, len(events))
	staged := make([]stagedWrite, len(events))
	version := uint64(currentVersion)
	seq := s.globalSeq

	for i := range events {
		version++
		seq++

		stored := events[i]
		stored.Version = version
		stored.GlobalVersion = seq
		committed[i] = stored

		doc := storedEvent{
			EventID:       stored.EventID,
			StreamID:      stored.StreamID,
			Metadata:      stored.Metadata,
			EventType:     stored.Event.EventType(),
			Version:       stored.Version,
			GlobalVersion: stored.GlobalVersion,
			OccurredAt:    stored.OccurredAt,
		}
		doc.Data, err = json.Marshal(stored.Event)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("marshal event %q: %w", doc.EventType, err))
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		path := filepath.Join(sdir, fmt.Sprintf("%010d-%s.json", stored.Version, doc.EventType))
		rel, err := filepath.Rel(allDir, path)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		staged[i] = stagedWrite{
			path: path,
			all:  filepath.Join(allDir, fmt.Sprintf("%010d-%s.json", stored.GlobalVersion, doc.EventType)),
			rel:  rel,
			raw:  raw,
		}
	}

	written := make([]string, 0, 2*len(staged))
	rollback := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}

	for _, w := range staged {
		if err := os.WriteFile(w.path, w.raw, 0o644); err != nil {
			rollback()
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		written = append(written, w.path)

		if err := os.Symlink(w.rel, w.all); err != nil {
			rollback()
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		written = append(written, w.all)
	}

	s.globalSeq = seq

	return cqrs.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: version,
		Events:              committed,
	}, nil
}

func (s *Store) LoadStream(ctx context.Context, id string) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.loadFromDir(s.streamDir(id), 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.loadFromDir(s.streamDir(id), version)
}

func (s *Store) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.loadFromDir(filepath.Join(s.baseDir, "all"), after)
}

// loadFromDir iterates the directory's documents with sequence numbers
// greater than after. A missing directory yields an empty iterator.
func (s *Store) loadFromDir(dir string, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return cqrs.NewSliceIterator[*cqrs.Envelope](nil), nil
		}
		return nil, cqrs.WrapEventStoreError(err)
	}

	names := make([]string, 0, len(files))
	for _, fi := range files {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)

	idx := 0
	nextFunc := func(ctx context.Context) (*cqrs.Envelope, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for idx < len(names) {
			name := names[idx]
			idx++

			seqPart, _, ok := strings.Cut(name, "-")
			if !ok {
				continue
			}
			seq, err := strconv.ParseUint(seqPart, 10, 64)
			if err != nil || seq <= after {
				continue
			}

			raw, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, cqrs.WrapEventStoreError(err)
			}

			var doc storedEvent
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, cqrs.WrapEventStoreError(fmt.Errorf("decode %s: %w", name, err))
			}

			ev, err := cqrs.UnmarshalEventJSON(doc.EventType, doc.Data)
			if err != nil {
				return nil, cqrs.WrapEventStoreError(err)
			}

			return &cqrs.Envelope{
				EventID:       doc.EventID,
				StreamID:      doc.StreamID,
				Metadata:      doc.Metadata,
				Event:         ev,
				Version:       doc.Version,
				GlobalVersion: doc.GlobalVersion,
				OccurredAt:    doc.OccurredAt,
			}, nil
		}
		return nil, io.EOF
	}

	return cqrs.NewIteratorFunc(nextFunc), nil
}

func (s *Store) Close() error {
	return nil
}

type stagedWrite struct {
	path string
	all  string
	rel  string
	raw  []byte
}

type storedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	Metadata      map[string]any  `json:"metadata"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
