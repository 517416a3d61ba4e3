package session

// State is the lifecycle state of a session's connection.
type State int

const (
	// StateClosed means no connection exists. It is the initial state of a
	// Status and the final state after Close.
	StateClosed State = iota

	// StateConnecting means a connection attempt is in flight.
	StateConnecting

	// StateOpen means the connection is established and Send writes.
	StateOpen

	// StateClosing means Close was requested and the connection is being
	// torn down.
	StateClosing

	// StateError means the last attempt or connection failed. A reconnect
	// is scheduled unless the session was closed.
	StateError
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateEvent describes a state change.
type StateEvent struct {
	Old State
	New State
	Err error // cause of the change, if any
}
