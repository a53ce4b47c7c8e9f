package rbs_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbs/internal/backendtest"
	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func config(srv *backendtest.Server) rbs.Config {
	return rbs.Config{
		ProjectID: srv.ProjectID,
		BaseURL:   srv.URL,
		Culture:   "en-US",
	}
}

func newClient(t *testing.T, srv *backendtest.Server, opts ...rbs.Option) *rbs.Client {
	t.Helper()
	c, err := rbs.New(config(srv), append([]rbs.Option{rbs.WithoutRealtime()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// statuses collects auth status notifications.
func statuses(c *rbs.Client) <-chan rbs.AuthStatus {
	ch := make(chan rbs.AuthStatus, 32)
	c.SubscribeAuthStatus(func(s rbs.AuthStatus) { ch <- s })
	return ch
}

func nextStatus(t *testing.T, ch <-chan rbs.AuthStatus) rbs.AuthStatus {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth status")
		return rbs.AuthStatus{}
	}
}

func noStatus(t *testing.T, ch <-chan rbs.AuthStatus) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected auth status %s", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func ping(srv *backendtest.Server) {
	srv.Handle("rbs.test.request.PING", func(c backendtest.ActionCall) (int, any) {
		return 200, []any{c.UserID}
	})
}

var pingReq = rbs.ActionRequest{Action: "rbs.test.request.PING"}
