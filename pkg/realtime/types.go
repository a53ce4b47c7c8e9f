package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("realtime: manager closed")
	ErrHandshakeTimeout = errors.New("realtime: handshake timed out")

	// ErrNoToken tells the manager there is no session to connect with.
	// TokenSource errors matching it leave the manager disconnected; any
	// other error is retried.
	ErrNoToken = errors.New("realtime: no token")
)

// State is the connection state as seen by the manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// LifecycleEvent reports the host application moving between foreground
// and background.
type LifecycleEvent int

const (
	EnteredBackground LifecycleEvent = iota
	EnteredForeground
)

// Reachability reports network availability.
type Reachability int

const (
	Unreachable Reachability = iota
	WiFi
	Cellular
)

// Message is a frame received from the server, forwarded verbatim.
type Message struct {
	Binary bool
	Data   []byte
}

// ConnectionError describes a failed or broken connection. It is only ever
// delivered to observers.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime: connection to %s failed: %v", redactURL(e.URL), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Observer receives connection notifications. Calls are made one at a time
// from a single delivery goroutine.
type Observer interface {
	OnConnected()
	OnDisconnected(reason string)
	OnMessage(msg Message)
	OnConnectionError(err *ConnectionError)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Connected       func()
	Disconnected    func(reason string)
	MessageReceived func(msg Message)
	Error           func(err *ConnectionError)
}

func (o ObserverFuncs) OnConnected() {
	if o.Connected != nil {
		o.Connected()
	}
}

func (o ObserverFuncs) OnDisconnected(reason string) {
	if o.Disconnected != nil {
		o.Disconnected(reason)
	}
}

func (o ObserverFuncs) OnMessage(msg Message) {
	if o.MessageReceived != nil {
		o.MessageReceived(msg)
	}
}

func (o ObserverFuncs) OnConnectionError(err *ConnectionError) {
	if o.Error != nil {
		o.Error(err)
	}
}
