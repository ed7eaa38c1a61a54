package tabflow

// StreamState is the concurrency requirement applied when saving events.
// The set is sealed: Any, NoStream, StreamExists and Revision.
type StreamState interface {
	streamState()
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) streamState() {}

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists means the stream must already exist.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision expects the stream to be at exactly this version.
type Revision uint64

func (Revision) streamState() {}
