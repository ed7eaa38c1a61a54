package tabflow

// Projection is a read model fed by the committed event feed. A projection
// owns its index exclusively: mutation happens only in its event handlers,
// queries return copies, and no other component reads its internals.
//
// Projections typically embed an *EventGroupProcessor, which provides both
// Handle and StreamFilter; the filter is the projection's declared interest,
// so the bus never delivers kinds it does not handle. A projection's state
// is derivable at any time by replaying the full history from position zero,
// which is the recovery path when its in-memory index is lost.
type Projection interface {
	EventHandler

	// ProjectionName identifies the projection on the bus and in logs.
	ProjectionName() string

	// StreamFilter lists the event kinds the projection wants delivered.
	StreamFilter() []string
}
