package httpx_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func countingTransport(n *atomic.Int32) httpx.Transport {
	return httpx.TransportFunc(func(ctx context.Context, req httpx.Request) (httpx.Response, error) {
		n.Add(1)
		return httpx.Response{StatusCode: 200}, nil
	})
}

func TestHostKeyExtractor(t *testing.T) {
	t.Run("extracts host", func(t *testing.T) {
		key := httpx.HostKeyExtractor(httpx.Request{URL: "https://core.example.com/user/action"})
		require.Equal(t, "core.example.com", key)
	})

	t.Run("keeps port", func(t *testing.T) {
		key := httpx.HostKeyExtractor(httpx.Request{URL: "http://127.0.0.1:8080/x"})
		require.Equal(t, "127.0.0.1:8080", key)
	})

	t.Run("invalid url", func(t *testing.T) {
		require.Empty(t, httpx.HostKeyExtractor(httpx.Request{URL: "://bad"}))
	})
}

func TestPathKeyExtractor(t *testing.T) {
	key := httpx.PathKeyExtractor(httpx.Request{URL: "https://core.example.com/public/auth-refresh?x=1"})
	require.Equal(t, "core.example.com/public/auth-refresh", key)
}

func TestRateLimited(t *testing.T) {
	t.Run("allows burst without waiting", func(t *testing.T) {
		var n atomic.Int32
		tr := httpx.RateLimited(countingTransport(&n), httpx.RateLimitConfig{
			RequestsPerWindow: 1,
			Window:            time.Hour,
			Burst:             5,
		}, httpx.HostKeyExtractor)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		for range 5 {
			_, err := tr.Do(ctx, httpx.Request{URL: "https://a.example.com/"})
			require.NoError(t, err)
		}
		require.Equal(t, int32(5), n.Load())
	})

	t.Run("blocks past burst until context ends", func(t *testing.T) {
		var n atomic.Int32
		tr := httpx.RateLimited(countingTransport(&n), httpx.RateLimitConfig{
			RequestsPerWindow: 1,
			Window:            time.Hour,
			Burst:             1,
		}, httpx.HostKeyExtractor)

		_, err := tr.Do(context.Background(), httpx.Request{URL: "https://a.example.com/"})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = tr.Do(ctx, httpx.Request{URL: "https://a.example.com/"})
		require.Error(t, err)
		require.Equal(t, int32(1), n.Load())
	})

	t.Run("separate hosts get separate buckets", func(t *testing.T) {
		var n atomic.Int32
		tr := httpx.RateLimited(countingTransport(&n), httpx.RateLimitConfig{
			RequestsPerWindow: 1,
			Window:            time.Hour,
			Burst:             1,
		}, httpx.HostKeyExtractor)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := tr.Do(ctx, httpx.Request{URL: "https://a.example.com/"})
		require.NoError(t, err)
		_, err = tr.Do(ctx, httpx.Request{URL: "https://b.example.com/"})
		require.NoError(t, err)
		require.Equal(t, int32(2), n.Load())
	})

	t.Run("unkeyed requests pass through", func(t *testing.T) {
		var n atomic.Int32
		tr := httpx.RateLimited(countingTransport(&n), httpx.RateLimitConfig{
			RequestsPerWindow: 1,
			Window:            time.Hour,
			Burst:             1,
		}, func(httpx.Request) string { return "" })

		for range 3 {
			_, err := tr.Do(context.Background(), httpx.Request{URL: "x"})
			require.NoError(t, err)
		}
		require.Equal(t, int32(3), n.Load())
	})
}

func TestParseRateLimitFromEnv(t *testing.T) {
	defaults := httpx.RateLimitConfig{RequestsPerWindow: 10, Window: time.Minute, Burst: 10}

	t.Run("uses defaults when unset", func(t *testing.T) {
		cfg := httpx.ParseRateLimitFromEnv("UNSET_TEST", defaults)
		require.Equal(t, defaults, cfg)
	})

	t.Run("overrides from env", func(t *testing.T) {
		t.Setenv("RATELIMIT_ENVTEST_REQUESTS", "100")
		t.Setenv("RATELIMIT_ENVTEST_WINDOW_SEC", "30")
		t.Setenv("RATELIMIT_ENVTEST_BURST", "20")

		cfg := httpx.ParseRateLimitFromEnv("ENVTEST", defaults)
		require.Equal(t, 100, cfg.RequestsPerWindow)
		require.Equal(t, 30*time.Second, cfg.Window)
		require.Equal(t, 20, cfg.Burst)
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		t.Setenv("RATELIMIT_BADTEST_REQUESTS", "abc")
		t.Setenv("RATELIMIT_BADTEST_BURST", "-1")

		cfg := httpx.ParseRateLimitFromEnv("BADTEST", defaults)
		require.Equal(t, defaults, cfg)
	})
}
