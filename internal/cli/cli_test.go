package cli_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbs/internal/backendtest"
	"github.com/aussiebroadwan/rbs/internal/cli"
	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, srv *backendtest.Server) cli.Config {
	t.Helper()
	return cli.Config{
		Env:         "test",
		LogLevel:    "error",
		LogFormat:   "text",
		ProjectID:   srv.ProjectID,
		Region:      "eu-west-1",
		BaseURL:     srv.URL,
		RealtimeURL: srv.RealtimeURL(),
		Culture:     "en-US",
		Timeout:     5 * time.Second,
		Store:       cli.StoreSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "rbs.db"),
	}
}

func factory(cfg cli.Config) cli.AppFactory {
	return func(ctx context.Context, opts ...rbs.Option) (*cli.App, error) {
		return cli.New(ctx, cfg, opts...)
	}
}

func run(t *testing.T, f cli.AppFactory, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand(f)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionPersistsAcrossInvocations(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	srv.Handle("rbs.test.request.PING", func(c backendtest.ActionCall) (int, any) {
		return http.StatusOK, []any{c.UserID}
	})
	f := factory(testConfig(t, srv))

	out, err := run(t, f, "status")
	require.NoError(t, err)
	require.Equal(t, "signed_out\n", out)

	out, err = run(t, f, "send", "rbs.test.request.PING")
	require.NoError(t, err)
	require.JSONEq(t, `["anon-1"]`, out)

	out, err = run(t, f, "send", "rbs.test.request.PING")
	require.NoError(t, err)
	require.JSONEq(t, `["anon-1"]`, out)
	require.Equal(t, 1, srv.Calls(backendtest.EndpointAnonymous))

	out, err = run(t, f, "status")
	require.NoError(t, err)
	require.Equal(t, "signed_in_anonymously(anon-1)\n", out)
}

func TestSendPayloadAndFlags(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	srv.Handle("rbs.test.request.ECHO", func(c backendtest.ActionCall) (int, any) {
		return http.StatusOK, c.Payload
	})
	f := factory(testConfig(t, srv))

	out, err := run(t, f, "send", "rbs.test.request.ECHO", `{"sku":"A1"}`, "--culture", "tr-TR", "--header", "X-Trace=abc")
	require.NoError(t, err)
	require.JSONEq(t, `[{"sku":"A1"}]`, out)

	h := srv.LastHeaders()
	require.Equal(t, "tr-TR", h.Get("Accept-Language"))
	require.Equal(t, "abc", h.Get("X-Trace"))

	_, err = run(t, f, "send", "rbs.test.request.ECHO", `[1,2]`)
	require.ErrorContains(t, err, "payload must be a JSON object")

	_, err = run(t, f, "send", "rbs.test.request.MISSING")
	var aerr *rbs.ActionError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, http.StatusNotFound, aerr.HTTPStatusCode)
}

func TestURL(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	f := factory(testConfig(t, srv))

	out, err := run(t, f, "url", "rbs.product.get.LIST", `{"q":"shoes"}`)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, srv.URL+"/public/action/proj/rbs.product.get.LIST?data="), out)

	_, err = run(t, f, "url", "rbs.product.request.LIST")
	var cerr *rbs.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 0, srv.Calls(backendtest.EndpointAnonymous))
}

func TestSignInAndSignOut(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	f := factory(testConfig(t, srv))

	_, err := run(t, f, "signin")
	require.Error(t, err)

	out, err := run(t, f, "signin", "--custom-token", srv.MintCustomToken("user-42"))
	require.NoError(t, err)
	require.Equal(t, "signed in as user-42\n", out)

	out, err = run(t, f, "status")
	require.NoError(t, err)
	require.Equal(t, "signed_in(user-42)\n", out)

	out, err = run(t, f, "signout")
	require.NoError(t, err)
	require.Equal(t, "signed out\n", out)
	require.Equal(t, 1, srv.Calls(backendtest.EndpointSignOut))

	out, err = run(t, f, "status")
	require.NoError(t, err)
	require.Equal(t, "signed_out\n", out)
}

func TestListen(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	f := factory(testConfig(t, srv))

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := run(t, f, "listen", "--count", "2")
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool { return srv.Sockets() == 1 }, 5*time.Second, 10*time.Millisecond)
	srv.Broadcast("one")
	srv.BroadcastBinary([]byte("two"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, "one\nbinary:dHdv\n", r.out)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return")
	}
	require.Equal(t, 1, srv.Calls(backendtest.EndpointAnonymous))
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := run(t, func(context.Context, ...rbs.Option) (*cli.App, error) {
		panic("version needs no app")
	}, "version")
	require.NoError(t, err)
	require.Equal(t, rbs.Version+"\n", out)
}
