package tabflow

// Command is a request to change the state of one aggregate. A command never
// carries stream-position information; it always targets current state.
type Command interface {
	AggregateID() string
}
