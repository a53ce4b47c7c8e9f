package realtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/realtime"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const waitTimeout = 2 * time.Second

type fakeConn struct {
	url    string
	emit   func(realtime.Event)
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		go c.emit(realtime.Event{Kind: realtime.EventDisconnected, Reason: "closed"})
	}
	return nil
}

type fakeTransport struct {
	autoConnect bool
	opened      chan *fakeConn

	mu    sync.Mutex
	count int
}

func newFakeTransport(autoConnect bool) *fakeTransport {
	return &fakeTransport{autoConnect: autoConnect, opened: make(chan *fakeConn, 32)}
}

func (t *fakeTransport) Open(url string, emit func(realtime.Event)) (realtime.Conn, error) {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()

	c := &fakeConn{url: url, emit: emit}
	if t.autoConnect {
		go emit(realtime.Event{Kind: realtime.EventConnected})
	}
	t.opened <- c
	return c, nil
}

func (t *fakeTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

type recorder struct {
	connected    chan struct{}
	disconnected chan string
	messages     chan realtime.Message
	errs         chan *realtime.ConnectionError
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan struct{}, 32),
		disconnected: make(chan string, 32),
		messages:     make(chan realtime.Message, 32),
		errs:         make(chan *realtime.ConnectionError, 32),
	}
}

func (r *recorder) OnConnected()                                 { r.connected <- struct{}{} }
func (r *recorder) OnDisconnected(reason string)                 { r.disconnected <- reason }
func (r *recorder) OnMessage(msg realtime.Message)               { r.messages <- msg }
func (r *recorder) OnConnectionError(e *realtime.ConnectionError) { r.errs <- e }

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
		var zero T
		return zero
	}
}

func newManager(t *testing.T, tr realtime.Transport, obs realtime.Observer, tokens realtime.TokenSource) *realtime.Manager {
	t.Helper()
	m := realtime.NewManager(realtime.Options{
		Transport:      tr,
		TokenSource:    tokens,
		URL:            func(tok string) (string, error) { return "ws://rt.test/?token=" + tok, nil },
		Observer:       obs,
		ReconnectLimit: rate.Inf,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func staticToken(tok string) realtime.TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	m.Connect("ws://rt.test/?token=a")
	m.Connect("ws://rt.test/?token=a")
	recv(t, tr.opened)
	recv(t, obs.connected)

	// Repeated triggers while connected must not open a second socket.
	m.Connect("ws://rt.test/?token=a")
	m.HandleLifecycle(realtime.EnteredForeground)
	m.HandleReachability(realtime.WiFi)
	m.HandleReachability(realtime.Cellular)

	require.NoError(t, m.WaitConnected(context.Background()))
	require.Never(t, func() bool { return tr.Opens() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Connected, m.State())
}

func TestManagerConnectWhileConnectingIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(false)
	m := newManager(t, tr, newRecorder(), staticToken("t"))

	m.Connect("ws://rt.test/?token=a")
	m.Connect("ws://rt.test/?token=a")
	m.Connect("ws://rt.test/?token=a")

	recv(t, tr.opened)
	require.Never(t, func() bool { return tr.Opens() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Connecting, m.State())
}

func TestManagerConnectWithNewURLReplacesSocket(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)
	recv(t, obs.connected)

	m.Connect("ws://rt.test/?token=b")
	c2 := recv(t, tr.opened)
	require.Equal(t, "ws://rt.test/?token=b", c2.url)
	require.True(t, c1.closed.Load())
	recv(t, obs.connected)

	// The old socket's close belongs to a previous generation.
	require.Never(t, func() bool { return tr.Opens() > 2 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Connected, m.State())
}

func TestManagerReconnectsAfterAccidentalDrop(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("fresh"))

	m.Connect("ws://rt.test/?token=old")
	c1 := recv(t, tr.opened)
	recv(t, obs.connected)

	c1.emit(realtime.Event{Kind: realtime.EventDisconnected, Reason: "server went away"})
	require.Equal(t, "server went away", recv(t, obs.disconnected))

	c2 := recv(t, tr.opened)
	require.Equal(t, "ws://rt.test/?token=fresh", c2.url)
	recv(t, obs.connected)
	require.True(t, c1.closed.Load())
}

func TestManagerIntentionalDisconnectDoesNotReconnect(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	m.Connect("ws://rt.test/?token=a")
	recv(t, tr.opened)
	recv(t, obs.connected)

	m.Disconnect()
	require.Equal(t, "closed", recv(t, obs.disconnected))

	// Network churn after a sign out must not bring the socket back.
	m.HandleReachability(realtime.Unreachable)
	m.HandleReachability(realtime.WiFi)
	m.HandleLifecycle(realtime.EnteredForeground)

	require.Never(t, func() bool { return tr.Opens() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Disconnected, m.State())
	require.Empty(t, obs.errs)
}

func TestManagerBackgroundAndForeground(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("again"))

	m.Connect("ws://rt.test/?token=a")
	recv(t, tr.opened)
	recv(t, obs.connected)

	m.HandleLifecycle(realtime.EnteredBackground)
	recv(t, obs.disconnected)
	require.Never(t, func() bool { return tr.Opens() > 1 }, 150*time.Millisecond, 10*time.Millisecond)

	m.HandleLifecycle(realtime.EnteredForeground)
	c := recv(t, tr.opened)
	require.Equal(t, "ws://rt.test/?token=again", c.url)
	recv(t, obs.connected)
}

func TestManagerConnectWhileBackgrounded(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("again"))

	m.Connect("ws://rt.test/?token=a")
	recv(t, tr.opened)
	recv(t, obs.connected)

	m.HandleLifecycle(realtime.EnteredBackground)
	recv(t, obs.disconnected)

	// Actions sent from the background must not reopen the socket.
	m.Connect("ws://rt.test/?token=b")
	require.Never(t, func() bool { return tr.Opens() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Disconnected, m.State())

	m.HandleLifecycle(realtime.EnteredForeground)
	c := recv(t, tr.opened)
	require.Equal(t, "ws://rt.test/?token=again", c.url)
	recv(t, obs.connected)
}

func TestManagerReachabilityRegained(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	m.HandleReachability(realtime.Unreachable)
	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)
	recv(t, obs.connected)

	// Drop while offline: no reconnect until the network is back.
	c1.emit(realtime.Event{Kind: realtime.EventError, Err: errors.New("network down")})
	recv(t, obs.errs)
	recv(t, obs.disconnected)
	require.Never(t, func() bool { return tr.Opens() > 1 }, 150*time.Millisecond, 10*time.Millisecond)

	m.HandleReachability(realtime.WiFi)
	recv(t, tr.opened)
	recv(t, obs.connected)
}

func TestManagerHandshakeTimeout(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(false)
	obs := newRecorder()
	m := realtime.NewManager(realtime.Options{
		Transport:        tr,
		TokenSource:      staticToken("t"),
		URL:              func(tok string) (string, error) { return "ws://rt.test/?token=" + tok, nil },
		Observer:         obs,
		HandshakeTimeout: 50 * time.Millisecond,
		ReconnectLimit:   rate.Inf,
	})
	defer m.Close()

	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)

	cerr := recv(t, obs.errs)
	require.ErrorIs(t, cerr, realtime.ErrHandshakeTimeout)
	require.NotContains(t, cerr.Error(), "token=")
	recv(t, obs.disconnected)
	require.True(t, c1.closed.Load())

	// The timed out connection is replaced by a reconnect attempt.
	recv(t, tr.opened)
}

func TestManagerIgnoresStaleGenerations(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(false)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)
	m.Connect("ws://rt.test/?token=b")
	c2 := recv(t, tr.opened)

	c1.emit(realtime.Event{Kind: realtime.EventConnected})
	c1.emit(realtime.Event{Kind: realtime.EventText, Data: []byte("stale")})
	c2.emit(realtime.Event{Kind: realtime.EventConnected})
	c2.emit(realtime.Event{Kind: realtime.EventBinary, Data: []byte{1, 2}})

	recv(t, obs.connected)
	msg := recv(t, obs.messages)
	require.True(t, msg.Binary)
	require.Equal(t, []byte{1, 2}, msg.Data)
	require.Empty(t, obs.messages)
}

func TestManagerStaysDisconnectedWithoutToken(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	var asked atomic.Int32
	m := newManager(t, tr, obs, func(context.Context) (string, error) {
		asked.Add(1)
		return "", fmt.Errorf("signed out: %w", realtime.ErrNoToken)
	})

	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)
	recv(t, obs.connected)

	c1.emit(realtime.Event{Kind: realtime.EventDisconnected, Reason: "eof"})
	recv(t, obs.disconnected)

	require.Eventually(t, func() bool { return asked.Load() == 1 }, waitTimeout, 10*time.Millisecond)
	require.Never(t, func() bool { return tr.Opens() > 1 || asked.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, realtime.Disconnected, m.State())
}

func TestManagerRetriesTransientTokenFailure(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	var asked atomic.Int32
	m := newManager(t, tr, obs, func(context.Context) (string, error) {
		if asked.Add(1) == 1 {
			return "", errors.New("refresh failed")
		}
		return "fresh", nil
	})

	m.Connect("ws://rt.test/?token=a")
	c1 := recv(t, tr.opened)
	recv(t, obs.connected)

	c1.emit(realtime.Event{Kind: realtime.EventDisconnected, Reason: "eof"})
	recv(t, obs.disconnected)

	cerr := recv(t, obs.errs)
	require.ErrorContains(t, cerr, "refresh failed")

	c2 := recv(t, tr.opened)
	require.Equal(t, "ws://rt.test/?token=fresh", c2.url)
	recv(t, obs.connected)
	require.EqualValues(t, 2, asked.Load())
}

func TestManagerWaitConnected(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(false)
	m := realtime.NewManager(realtime.Options{Transport: tr})

	m.Connect("ws://rt.test/")
	c := recv(t, tr.opened)

	errc := make(chan error, 1)
	go func() { errc <- m.WaitConnected(context.Background()) }()

	c.emit(realtime.Event{Kind: realtime.EventConnected})
	require.NoError(t, recv(t, errc))

	// Pending waiters are released when the manager closes.
	m.Disconnect()
	go func() { errc <- m.WaitConnected(context.Background()) }()
	require.Never(t, func() bool { return len(errc) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, m.Close())
	require.ErrorIs(t, recv(t, errc), realtime.ErrClosed)

	require.ErrorIs(t, m.WaitConnected(context.Background()), realtime.ErrClosed)
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(true)
	obs := newRecorder()
	m := newManager(t, tr, obs, staticToken("t"))

	lifecycle := make(chan realtime.LifecycleEvent)
	reach := make(chan realtime.Reachability)
	errc := make(chan error, 1)
	go func() { errc <- m.Watch(context.Background(), lifecycle, reach) }()

	m.Connect("ws://rt.test/?token=a")
	recv(t, tr.opened)
	recv(t, obs.connected)

	lifecycle <- realtime.EnteredBackground
	recv(t, obs.disconnected)
	lifecycle <- realtime.EnteredForeground
	recv(t, tr.opened)

	close(lifecycle)
	close(reach)
	require.NoError(t, recv(t, errc))
}
