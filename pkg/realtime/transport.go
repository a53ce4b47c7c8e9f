package realtime

// EventKind identifies a transport event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventText
	EventBinary
	EventError
)

// Event is emitted by a transport connection. A connection emits at most one
// terminal event (EventDisconnected or EventError).
type Event struct {
	Kind   EventKind
	Data   []byte
	Reason string
	Err    error
}

// Conn is an open, or opening, transport connection.
type Conn interface {
	// Close tears the connection down. It must not block on emit.
	Close() error
}

// Transport opens connections. Open must return quickly; the handshake runs
// in the background and is reported through emit.
type Transport interface {
	Open(url string, emit func(Event)) (Conn, error)
}
