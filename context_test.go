package tabflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWithEnvelope_Accessors(t *testing.T) {
	id := uuid.New()
	at := time.Now()
	env := &Envelope{
		EventID:       id,
		StreamID:      "tab-1",
		Metadata:      map[string]any{"source": "test"},
		Event:         counterBumped{id: "tab-1"},
		Version:       4,
		GlobalVersion: 17,
		OccurredAt:    at,
	}

	ctx := WithEnvelope(context.Background(), env)

	if got := StreamIDFromContext(ctx); got != "tab-1" {
		t.Errorf("stream ID: got %q", got)
	}
	if got := EventIDFromContext(ctx); got != id {
		t.Errorf("event ID: got %v", got)
	}
	if got := VersionFromContext(ctx); got != 4 {
		t.Errorf("version: got %d", got)
	}
	if got := GlobalVersionFromContext(ctx); got != 17 {
		t.Errorf("global version: got %d", got)
	}
	if got := OccurredAtFromContext(ctx); !got.Equal(at) {
		t.Errorf("occurred at: got %v", got)
	}
	if got := MetadataFromContext(ctx); got["source"] != "test" {
		t.Errorf("metadata: got %v", got)
	}
}

func TestContextAccessors_ZeroValues(t *testing.T) {
	ctx := context.Background()

	if got := StreamIDFromContext(ctx); got != "" {
		t.Errorf("expected empty stream ID, got %q", got)
	}
	if got := EventIDFromContext(ctx); got != uuid.Nil {
		t.Errorf("expected nil event ID, got %v", got)
	}
	if got := VersionFromContext(ctx); got != 0 {
		t.Errorf("expected version 0, got %d", got)
	}
	if got := OccurredAtFromContext(ctx); !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}
	if got := MetadataFromContext(ctx); got != nil {
		t.Errorf("expected nil metadata, got %v", got)
	}
}
