package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/slogx"
	"golang.org/x/time/rate"
)

const (
	// DefaultHandshakeTimeout bounds how long a connection may stay in
	// Connecting before it is treated as failed.
	DefaultHandshakeTimeout = 5 * time.Second

	defaultTokenTimeout = 30 * time.Second
	mailboxSize         = 256
)

// TokenSource returns a usable access token without creating a new session.
// It returns an error wrapping ErrNoToken when there is nothing to connect
// with.
type TokenSource func(ctx context.Context) (string, error)

// URLBuilder turns an access token into a socket URL.
type URLBuilder func(accessToken string) (string, error)

// Options configures a Manager.
type Options struct {
	Transport   Transport
	TokenSource TokenSource
	URL         URLBuilder
	Observer    Observer
	Logger      *slog.Logger

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// ReconnectLimit and ReconnectBurst throttle reconnect attempts. The
	// default allows one attempt per second with a burst of three.
	ReconnectLimit rate.Limit
	ReconnectBurst int
}

// Manager owns one realtime connection.
type Manager struct {
	opts    Options
	log     *slog.Logger
	limiter *rate.Limiter

	inbox      chan input
	deliveries chan func()
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	delivered  chan struct{}
	closeOnce  sync.Once

	// Mirrors st.state for lock-free reads.
	state atomic.Int32

	// Everything below is owned by the loop goroutine.
	st loopState
}

type loopState struct {
	state        State
	url          string
	conn         Conn
	gen          uint64
	terminal     bool // a terminal event for gen has been handled
	intentional  bool // the current connection was closed on purpose
	stopped      bool // Disconnect was called and no Connect since
	backgrounded bool
	unreachable  bool
	reconnecting bool
	timer        *time.Timer
	waiters      []chan error
}

// inputs delivered to the loop
type input interface{ isInput() }

type (
	connectInput    struct{ url string }
	disconnectInput struct{}
	lifecycleInput  struct{ ev LifecycleEvent }
	reachInput      struct{ r Reachability }
	transportInput  struct {
		gen uint64
		ev  Event
	}
	handshakeTimeoutInput struct{ gen uint64 }
	reconnectInput        struct {
		url   string
		err   error
		retry bool
	}
	waitInput struct{ ch chan error }
)

func (connectInput) isInput()          {}
func (disconnectInput) isInput()       {}
func (lifecycleInput) isInput()        {}
func (reachInput) isInput()            {}
func (transportInput) isInput()        {}
func (handshakeTimeoutInput) isInput() {}
func (reconnectInput) isInput()        {}
func (waitInput) isInput()             {}

// NewManager starts a manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ReconnectLimit == 0 {
		opts.ReconnectLimit = rate.Every(time.Second)
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = 3
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFuncs{}
	}
	log := opts.Logger
	if log == nil {
		log = slogx.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:       opts,
		log:        log.With("component", "realtime"),
		limiter:    rate.NewLimiter(opts.ReconnectLimit, opts.ReconnectBurst),
		inbox:      make(chan input, mailboxSize),
		deliveries: make(chan func(), mailboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		delivered:  make(chan struct{}),
	}

	go m.deliverLoop()
	go m.loop()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Connect opens a connection to url. Connecting to the URL that is already
// connected or connecting does nothing; a different URL replaces the
// current connection.
func (m *Manager) Connect(url string) { m.enqueue(connectInput{url: url}) }

// Disconnect closes the connection on purpose. No reconnect follows until
// the next Connect.
func (m *Manager) Disconnect() { m.enqueue(disconnectInput{}) }

// HandleLifecycle feeds an application lifecycle change to the manager.
func (m *Manager) HandleLifecycle(ev LifecycleEvent) { m.enqueue(lifecycleInput{ev: ev}) }

// HandleReachability feeds a network reachability change to the manager.
func (m *Manager) HandleReachability(r Reachability) { m.enqueue(reachInput{r: r}) }

// Watch forwards lifecycle and reachability events until ctx ends, the
// manager closes, or both channels are closed. Either channel may be nil.
func (m *Manager) Watch(ctx context.Context, lifecycle <-chan LifecycleEvent, reach <-chan Reachability) error {
	for lifecycle != nil || reach != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrClosed
		case ev, ok := <-lifecycle:
			if !ok {
				lifecycle = nil
				continue
			}
			m.HandleLifecycle(ev)
		case r, ok := <-reach:
			if !ok {
				reach = nil
				continue
			}
			m.HandleReachability(r)
		}
	}
	return nil
}

// WaitConnected blocks until the manager is Connected, ctx ends, or the
// manager is closed.
func (m *Manager) WaitConnected(ctx context.Context) error {
	ch := make(chan error, 1)
	if !m.enqueue(waitInput{ch: ch}) {
		return ErrClosed
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the manager, closing any open connection. Observers receive
// every notification queued before Close returns.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done
		<-m.delivered
	})
	return nil
}

func (m *Manager) enqueue(in input) bool {
	select {
	case <-m.ctx.Done():
		return false
	default:
	}
	select {
	case m.inbox <- in:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	defer close(m.deliveries)

	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return
		case in := <-m.inbox:
			m.handle(in)
		}
	}
}

func (m *Manager) deliverLoop() {
	defer close(m.delivered)
	for fn := range m.deliveries {
		fn()
	}
}

// deliver queues an observer call. Only the loop goroutine calls it.
func (m *Manager) deliver(fn func()) {
	m.deliveries <- fn
}

func (m *Manager) handle(in input) {
	switch in := in.(type) {
	case connectInput:
		m.st.stopped = false
		if in.url == m.st.url && (m.st.state == Connected || m.st.state == Connecting) {
			return
		}
		if m.st.backgrounded {
			// Picked up by the reconnect on EnteredForeground.
			m.st.url = in.url
			return
		}
		m.open(in.url)

	case disconnectInput:
		m.st.stopped = true
		m.closeIntentionally()

	case lifecycleInput:
		switch in.ev {
		case EnteredBackground:
			m.st.backgrounded = true
			m.closeIntentionally()
		case EnteredForeground:
			m.st.backgrounded = false
			m.maybeReconnect()
		}

	case reachInput:
		m.st.unreachable = in.r == Unreachable
		m.maybeReconnect()

	case transportInput:
		m.handleTransport(in)

	case handshakeTimeoutInput:
		if in.gen != m.st.gen || m.st.state != Connecting {
			return
		}
		m.log.Warn("realtime handshake timed out", "url", redactURL(m.st.url), "timeout", m.opts.HandshakeTimeout)
		m.drop("", ErrHandshakeTimeout)

	case reconnectInput:
		m.st.reconnecting = false
		if in.err != nil && !in.retry {
			m.log.Debug("realtime reconnect skipped", "error", in.err)
			return
		}
		if in.err != nil {
			m.log.Warn("realtime reconnect failed, retrying", "error", in.err)
			cerr := &ConnectionError{URL: m.st.url, Err: in.err}
			obs := m.opts.Observer
			m.deliver(func() { obs.OnConnectionError(cerr) })
			m.maybeReconnect()
			return
		}
		if m.st.stopped || m.st.backgrounded || m.st.state != Disconnected {
			return
		}
		m.open(in.url)

	case waitInput:
		if m.st.state == Connected {
			in.ch <- nil
			return
		}
		m.st.waiters = append(m.st.waiters, in.ch)
	}
}

func (m *Manager) handleTransport(in transportInput) {
	if in.gen != m.st.gen {
		return
	}

	switch in.ev.Kind {
	case EventConnected:
		if m.st.state != Connecting || m.st.conn == nil {
			return
		}
		m.stopTimer()
		m.setState(Connected)
		m.st.intentional = false
		for _, w := range m.st.waiters {
			w <- nil
		}
		m.st.waiters = nil
		m.log.Info("realtime connected", "url", redactURL(m.st.url))
		obs := m.opts.Observer
		m.deliver(obs.OnConnected)

	case EventText, EventBinary:
		if m.st.conn == nil {
			return
		}
		msg := Message{Binary: in.ev.Kind == EventBinary, Data: in.ev.Data}
		obs := m.opts.Observer
		m.deliver(func() { obs.OnMessage(msg) })

	case EventDisconnected:
		m.drop(in.ev.Reason, nil)

	case EventError:
		m.drop(in.ev.Reason, in.ev.Err)
	}
}

// open replaces any current connection with a new one to url.
func (m *Manager) open(url string) {
	if m.st.conn != nil {
		m.stopTimer()
		_ = m.st.conn.Close()
		m.st.conn = nil
	}

	m.st.gen++
	gen := m.st.gen
	m.st.url = url
	m.st.terminal = false
	m.st.intentional = false
	m.setState(Connecting)

	conn, err := m.opts.Transport.Open(url, func(ev Event) {
		m.enqueue(transportInput{gen: gen, ev: ev})
	})
	if err != nil {
		m.drop("", err)
		return
	}
	m.st.conn = conn
	m.st.timer = time.AfterFunc(m.opts.HandshakeTimeout, func() {
		m.enqueue(handshakeTimeoutInput{gen: gen})
	})
}

// closeIntentionally closes the connection without scheduling a reconnect.
// The transport's disconnect for this generation is still reported.
func (m *Manager) closeIntentionally() {
	if m.st.conn == nil {
		return
	}
	m.st.intentional = true
	m.stopTimer()
	_ = m.st.conn.Close()
	m.st.conn = nil
	m.setState(Disconnected)
}

// drop handles the end of the current generation.
func (m *Manager) drop(reason string, err error) {
	if m.st.terminal {
		return
	}
	m.st.terminal = true

	m.stopTimer()
	if m.st.conn != nil {
		_ = m.st.conn.Close()
		m.st.conn = nil
	}
	m.setState(Disconnected)

	obs := m.opts.Observer
	if err != nil && !m.st.intentional {
		cerr := &ConnectionError{URL: m.st.url, Err: err}
		m.log.Warn("realtime connection error", "url", redactURL(m.st.url), "error", err)
		m.deliver(func() { obs.OnConnectionError(cerr) })
	}
	m.log.Info("realtime disconnected", "reason", reason, "intentional", m.st.intentional)
	m.deliver(func() { obs.OnDisconnected(reason) })

	if !m.st.intentional {
		m.maybeReconnect()
	}
}

// maybeReconnect schedules a single reconnect attempt when one is allowed.
func (m *Manager) maybeReconnect() {
	if m.st.state != Disconnected || m.st.reconnecting {
		return
	}
	if m.st.stopped || m.st.backgrounded || m.st.unreachable {
		return
	}
	if m.opts.TokenSource == nil || m.opts.URL == nil {
		return
	}

	m.st.reconnecting = true
	delay := m.limiter.Reserve().Delay()

	go func() {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-m.ctx.Done():
				return
			}
		}

		ctx, cancel := context.WithTimeout(m.ctx, defaultTokenTimeout)
		defer cancel()

		token, err := m.opts.TokenSource(ctx)
		if err != nil {
			m.enqueue(reconnectInput{err: err, retry: !errors.Is(err, ErrNoToken) && m.ctx.Err() == nil})
			return
		}
		url, err := m.opts.URL(token)
		m.enqueue(reconnectInput{url: url, err: err})
	}()
}

func (m *Manager) stopTimer() {
	if m.st.timer != nil {
		m.st.timer.Stop()
		m.st.timer = nil
	}
}

func (m *Manager) setState(s State) {
	m.st.state = s
	m.state.Store(int32(s))
}

func (m *Manager) shutdown() {
	m.stopTimer()
	if m.st.conn != nil {
		_ = m.st.conn.Close()
		m.st.conn = nil
	}
	m.setState(Disconnected)
	for _, w := range m.st.waiters {
		w <- ErrClosed
	}
	m.st.waiters = nil

	for {
		select {
		case in := <-m.inbox:
			if w, ok := in.(waitInput); ok {
				w.ch <- ErrClosed
			}
		default:
			return
		}
	}
}
