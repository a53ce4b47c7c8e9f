package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// WebSocketTransport is the default Transport, backed by gorilla/websocket.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketTransport returns a transport whose dialer gives up after
// handshakeTimeout. Zero uses DefaultHandshakeTimeout.
func NewWebSocketTransport(handshakeTimeout time.Duration) *WebSocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (t *WebSocketTransport) Open(url string, emit func(Event)) (Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{cancel: cancel}
	go c.run(ctx, t.Dialer, url, t.Header, emit)
	return c, nil
}

type wsConn struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, emit func(Event)) {
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if ctx.Err() != nil {
			emit(Event{Kind: EventDisconnected, Reason: "closed"})
			return
		}
		emit(Event{Kind: EventError, Reason: "dial failed", Err: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		emit(Event{Kind: EventDisconnected, Reason: "closed"})
		return
	}
	c.ws = ws
	c.mu.Unlock()

	emit(Event{Kind: EventConnected})
	c.readPump(ws, emit)
}

func (c *wsConn) readPump(ws *websocket.Conn, emit func(Event)) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			emit(Event{Kind: EventDisconnected, Reason: closeReason(err)})
			return
		}

		switch mt {
		case websocket.TextMessage:
			emit(Event{Kind: EventText, Data: data})
		case websocket.BinaryMessage:
			emit(Event{Kind: EventBinary, Data: data})
		}
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	if c.ws == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return c.ws.Close()
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("close %d", ce.Code)
	}
	return err.Error()
}
