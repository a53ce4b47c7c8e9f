package rbs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/httpx"
	"github.com/aussiebroadwan/rbs/pkg/realtime"
	"github.com/aussiebroadwan/rbs/pkg/securestore"
	"github.com/aussiebroadwan/rbs/pkg/slogx"
)

// Version is reported in SDK logs.
const Version = "0.1.0"

// Client is the SDK entry point. It is safe for concurrent use.
type Client struct {
	cfg        Config
	log        *slog.Logger
	session    *Session
	dispatcher *Dispatcher
	rt         *realtime.Manager

	// connectMu orders hook connects against SignOut's disconnect.
	connectMu sync.Mutex
	closeOnce sync.Once
}

type options struct {
	store       securestore.Store
	transport   httpx.Transport
	rtTransport realtime.Transport
	observer    realtime.Observer
	logger      *slog.Logger
	now         func() time.Time
	noRealtime  bool
}

// Option customises a Client.
type Option func(*options)

// WithStore persists the session somewhere other than process memory.
func WithStore(s securestore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithHTTPTransport replaces the default rate limited net/http transport.
func WithHTTPTransport(t httpx.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRealtimeTransport replaces the default WebSocket transport.
func WithRealtimeTransport(t realtime.Transport) Option {
	return func(o *options) { o.rtTransport = t }
}

// WithConnectionObserver receives realtime connection notifications.
func WithConnectionObserver(obs realtime.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the SDK logger, overriding Config.Logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the local clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithoutRealtime disables the realtime connection entirely.
func WithoutRealtime() Option {
	return func(o *options) { o.noRealtime = true }
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		if cfg.Logging {
			log = slogx.New(slogx.Config{Service: "rbs", Version: Version, Level: "debug", Format: "text"})
		} else {
			log = slogx.Discard()
		}
	}
	log = log.With("project_id", cfg.ProjectID)

	if o.store == nil {
		o.store = securestore.NewMemory()
	}

	// Token endpoints and actions get separate budgets so a burst of actions
	// cannot starve a refresh.
	authTransport, actionTransport := o.transport, o.transport
	if o.transport == nil {
		base := httpx.NewClient(&http.Client{
			Timeout:   10 * time.Second,
			Transport: slogx.NewRoundTripper(http.DefaultTransport, log),
		})
		authTransport = httpx.RateLimited(base, httpx.AuthLimit, httpx.PathKeyExtractor)
		actionTransport = httpx.RateLimited(base, httpx.ActionLimit, httpx.HostKeyExtractor)
	}

	c := &Client{cfg: cfg, log: log}
	c.session = newSession(cfg, o.store, authTransport, o.now, log)

	if !o.noRealtime {
		rtTransport := o.rtTransport
		if rtTransport == nil {
			rtTransport = realtime.NewWebSocketTransport(realtime.DefaultHandshakeTimeout)
		}
		c.rt = realtime.NewManager(realtime.Options{
			Transport:   rtTransport,
			TokenSource: c.realtimeToken,
			URL:         c.realtimeURL,
			Observer:    o.observer,
			Logger:      log,
		})
	}

	c.dispatcher = newDispatcher(cfg, c.session, actionTransport, log, c.connectRealtime)
	return c, nil
}

// Config returns the normalised configuration.
func (c *Client) Config() Config { return c.cfg }

// Send runs an action and returns its result items.
func (c *Client) Send(ctx context.Context, req ActionRequest) ([]any, error) {
	return c.dispatcher.Send(ctx, req)
}

// SendAsync runs an action in the background; see Dispatcher.SendAsync.
func (c *Client) SendAsync(ctx context.Context, req ActionRequest, onSuccess func([]any), onError func(error)) {
	c.dispatcher.SendAsync(ctx, req, onSuccess, onError)
}

// GeneratePublicGetActionURL builds the public URL of a get action.
func (c *Client) GeneratePublicGetActionURL(action string, payload map[string]any) (string, error) {
	return c.dispatcher.GeneratePublicGetActionURL(action, payload)
}

// AuthenticateWithCustomToken signs in with a developer-issued custom token.
func (c *Client) AuthenticateWithCustomToken(ctx context.Context, customToken string) (User, error) {
	rec, err := c.session.AuthenticateWithCustomToken(ctx, customToken)
	if err != nil {
		return User{}, err
	}
	c.connectRealtime(rec)
	return rec.User(), nil
}

// SignOut forgets the stored identity and closes the realtime connection.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.session.SignOut(ctx)
	if c.rt != nil {
		c.connectMu.Lock()
		c.rt.Disconnect()
		c.connectMu.Unlock()
	}
	return err
}

// CurrentAuthStatus returns the current authentication status.
func (c *Client) CurrentAuthStatus() AuthStatus { return c.session.CurrentAuthStatus() }

// CurrentUser returns the signed in user, if any.
func (c *Client) CurrentUser() (User, bool) { return c.session.CurrentUser() }

// SubscribeAuthStatus registers fn for future status changes and returns a
// function that removes it.
func (c *Client) SubscribeAuthStatus(fn func(AuthStatus)) func() {
	return c.session.SubscribeAuthStatus(fn)
}

// ConnectRealtime makes sure a session exists, creating an anonymous one if
// needed, and starts the realtime connection. It does not wait for the
// handshake; use Realtime().WaitConnected for that.
func (c *Client) ConnectRealtime(ctx context.Context) error {
	if c.rt == nil {
		return &ConfigurationError{Field: "realtime", Reason: "disabled"}
	}
	rec, err := c.session.EnsureToken(ctx)
	if err != nil {
		return err
	}
	c.connectRealtime(rec)
	return nil
}

// Realtime returns the connection manager, or nil with WithoutRealtime.
func (c *Client) Realtime() *realtime.Manager { return c.rt }

// Close releases every goroutine owned by the client. Pending SendAsync
// callbacks are delivered first. Close must not be called from a SendAsync,
// status or observer callback.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.dispatcher.close()
		if c.rt != nil {
			_ = c.rt.Close()
		}
		c.session.close()
	})
	return nil
}

func (c *Client) realtimeToken(ctx context.Context) (string, error) {
	rec, err := c.session.CurrentToken(ctx)
	if errors.Is(err, ErrNoSession) || errors.Is(err, ErrClosed) {
		return "", fmt.Errorf("%w: %w", realtime.ErrNoToken, err)
	}
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (c *Client) realtimeURL(accessToken string) (string, error) {
	return realtime.BuildURL(c.cfg.RealtimeURL, c.cfg.ProjectID, accessToken)
}

// connectRealtime connects with rec unless the session has since moved to
// another identity or signed out.
func (c *Client) connectRealtime(rec TokenRecord) {
	if c.rt == nil {
		return
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if u, ok := c.session.CurrentUser(); !ok || u.UID != rec.UserID {
		c.log.Debug("realtime connect skipped for stale identity", "user_id", rec.UserID)
		return
	}
	u, err := c.realtimeURL(rec.AccessToken)
	if err != nil {
		c.log.Warn("realtime url", "error", err)
		return
	}
	c.rt.Connect(u)
}
