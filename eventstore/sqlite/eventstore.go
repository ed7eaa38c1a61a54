// Package sqlite provides a durable event store on a SQLite database, using
// the pure-Go modernc.org/sqlite driver. The UNIQUE(stream_id, version)
// constraint backs the optimistic concurrency check at the storage layer, so
// even a writer outside this process cannot break a stream's gapless
// numbering.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	cqrs "github.com/terraskye/tabflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	global_position INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id        TEXT NOT NULL,
	stream_id       TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	version         INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	metadata        TEXT,
	occurred_at     INTEGER NOT NULL,
	UNIQUE(stream_id, version)
);

CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, version);
`

var _ cqrs.EventStore = (*Store)(nil)

// Store is a SQLite-backed event store. Event payloads are stored as JSON and
// rehydrated through the event registry.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens the database at path (any DSN the sqlite driver accepts)
// and creates the schema if needed.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("open database: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, cqrs.WrapEventStoreError(fmt.Errorf("create schema: %w", err))
	}

	return &Store{db: db}, nil
}

// Save appends the batch in one transaction: the version check and every
// insert commit together or not at all.
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

	// Serializes in-process writers; the UNIQUE constraint still protects
	// against writers in other processes.
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}
	defer tx.Rollback()

	var currentVersion cqrs.Revision
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE stream_id = ?`, streamID)
	if err := row.Scan(&currentVersion); err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}

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

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, stream_id, event_type, version, payload, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}
	defer stmt.Close()

	committed := make([]cqrs.Envelope, len(events))
	version := uint64(currentVersion)

	for i := range events {
		version++

		stored := events[i]
		stored.Version = version

		payload, err := json.Marshal(stored.Event)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(fmt.Errorf("marshal event %q: %w", stored.Event.EventType(), err))
		}
		metadata, err := json.Marshal(stored.Metadata)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		res, err := stmt.ExecContext(ctx,
			stored.EventID.String(),
			stored.StreamID,
			stored.Event.EventType(),
			stored.Version,
			payload,
			string(metadata),
			stored.OccurredAt.UnixNano(),
		)
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}

		pos, err := res.LastInsertId()
		if err != nil {
			return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
		}
		stored.GlobalVersion = uint64(pos)
		committed[i] = stored
	}

	if err := tx.Commit(); err != nil {
		return cqrs.AppendResult{}, cqrs.WrapEventStoreError(err)
	}

	return cqrs.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: version,
		Events:              committed,
	}, nil
}

func (s *Store) LoadStream(ctx context.Context, id string) (*cqrs.Iterator[*cqrs.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, stream_id, event_type, version, payload, metadata, occurred_at, global_position
		FROM events WHERE stream_id = ? AND version > ? ORDER BY version
	`, id, version)
	if err != nil {
		return nil, cqrs.WrapEventStoreError(err)
	}
	return scanEnvelopes(rows)
}

func (s *Store) LoadFromAll(ctx context.Context, after uint64) (*cqrs.Iterator[*cqrs.Envelope], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, stream_id, event_type, version, payload, metadata, occurred_at, global_position
		FROM events WHERE global_position > ? ORDER BY global_position
	`, after)
	if err != nil {
		return nil, cqrs.WrapEventStoreError(err)
	}
	return scanEnvelopes(rows)
}

// scanEnvelopes materializes the result set so the iterator does not pin a
// database cursor across handler calls.
func scanEnvelopes(rows *sql.Rows) (*cqrs.Iterator[*cqrs.Envelope], error) {
	defer rows.Close()

	var envelopes []*cqrs.Envelope
	for rows.Next() {
		var (
			eventID   string
			streamID  string
			eventType string
			version   uint64
			payload   []byte
			metadata  sql.NullString
			occurred  int64
			globalPos uint64
		)
		if err := rows.Scan(&eventID, &streamID, &eventType, &version, &payload, &metadata, &occurred, &globalPos); err != nil {
			return nil, cqrs.WrapEventStoreError(err)
		}

		ev, err := cqrs.UnmarshalEventJSON(eventType, payload)
		if err != nil {
			return nil, cqrs.WrapEventStoreError(err)
		}

		id, err := uuid.Parse(eventID)
		if err != nil {
			return nil, cqrs.WrapEventStoreError(fmt.Errorf("parse event id %q: %w", eventID, err))
		}

		var md map[string]any
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, cqrs.WrapEventStoreError(err)
			}
		}

		envelopes = append(envelopes, &cqrs.Envelope{
			EventID:       id,
			StreamID:      streamID,
			Metadata:      md,
			Event:         ev,
			Version:       version,
			GlobalVersion: globalPos,
			OccurredAt:    time.Unix(0, occurred),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, cqrs.WrapEventStoreError(err)
	}

	return cqrs.NewSliceIterator(envelopes), nil
}

// Close closes the underlying database. Idempotent.
func (s *Store) Close() error {
	return s.db.Close()
}
