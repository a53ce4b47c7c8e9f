package backendtest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/aussiebroadwan/rbs/internal/backendtest"
	"github.com/aussiebroadwan/rbs/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func anonymous(t *testing.T, srv *backendtest.Server) map[string]string {
	t.Helper()
	q := url.Values{"projectId": {srv.ProjectID}, "clientId": {"rbs.user.enduser"}}
	resp, err := http.Get(srv.URL + "/public/anonymous-auth?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAnonymousAndRefresh(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()

	tokens := anonymous(t, srv)
	claims, err := jwtx.Inspect(tokens["accessToken"])
	require.NoError(t, err)
	require.True(t, claims.Anonymous)
	require.Equal(t, "anon-1", claims.UserID)

	body, _ := json.Marshal(map[string]string{"refreshToken": tokens["refreshToken"]})
	resp, err := http.Post(srv.URL+"/public/auth-refresh", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Refresh tokens rotate: the old one is now spent.
	resp, err = http.Post(srv.URL+"/public/auth-refresh", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, 1, srv.Calls(backendtest.EndpointAnonymous))
	require.Equal(t, 2, srv.Calls(backendtest.EndpointRefresh))
}

func TestUserActionRequiresBearer(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	srv.Handle("rbs.x.request.PING", func(c backendtest.ActionCall) (int, any) {
		return http.StatusOK, []any{c.UserID}
	})

	resp, err := http.Post(srv.URL+"/user/action/proj/rbs.x.request.PING", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tokens := anonymous(t, srv)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/user/action/proj/rbs.x.request.PING", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+tokens["accessToken"])
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Equal(t, []string{"anon-1"}, items)
}

func TestFailNext(t *testing.T) {
	t.Parallel()

	srv := backendtest.New("proj")
	defer srv.Close()
	srv.FailNext(backendtest.EndpointAnonymous, http.StatusServiceUnavailable, nil)

	q := url.Values{"projectId": {"proj"}, "clientId": {"c"}}
	resp, err := http.Get(srv.URL + "/public/anonymous-auth?" + q.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Only the next call fails.
	anonymous(t, srv)
}
