package httpx

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Outbound rate limit profiles. These can be overridden via environment
// variables (see init() below).
var (
	// AuthLimit bounds token endpoint traffic (bootstrap, refresh, custom token).
	// Override with: RATELIMIT_AUTH_REQUESTS, RATELIMIT_AUTH_WINDOW_SEC, RATELIMIT_AUTH_BURST
	AuthLimit = RateLimitConfig{
		RequestsPerWindow: 30,
		Window:            time.Minute,
		Burst:             10,
	}

	// ActionLimit bounds action calls per backend host.
	// Override with: RATELIMIT_ACTION_REQUESTS, RATELIMIT_ACTION_WINDOW_SEC, RATELIMIT_ACTION_BURST
	ActionLimit = RateLimitConfig{
		RequestsPerWindow: 600,
		Window:            time.Minute,
		Burst:             50,
	}
)

func init() {
	AuthLimit = ParseRateLimitFromEnv("AUTH", AuthLimit)
	ActionLimit = ParseRateLimitFromEnv("ACTION", ActionLimit)
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_ACTION_REQUESTS, RATELIMIT_ACTION_WINDOW_SEC, RATELIMIT_ACTION_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// Limit converts the window based config into a token bucket rate.
func (c RateLimitConfig) Limit() rate.Limit {
	if c.RequestsPerWindow <= 0 || c.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

// KeyExtractor groups requests for rate limiting purposes.
type KeyExtractor func(Request) string

// HostKeyExtractor limits per backend host.
func HostKeyExtractor(r Request) string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// PathKeyExtractor limits per host and path, so every endpoint gets its own bucket.
func PathKeyExtractor(r Request) string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Host + u.Path
}

// rateLimiter manages rate limiters for different keys
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	// Cleanup old limiters periodically
	lastCleanup time.Time
}

// getLimiter retrieves or creates a rate limiter for the given key
func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)

	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup removes limiters with full buckets, they have been idle.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

type rateLimitedTransport struct {
	next   Transport
	rl     *rateLimiter
	keyFn  KeyExtractor
	config RateLimitConfig
}

// RateLimited wraps next so requests wait for a token before being sent.
// Unlike a server side limiter nothing is rejected: callers block until a
// token is available or their context ends.
func RateLimited(next Transport, config RateLimitConfig, keyExtractor KeyExtractor) Transport {
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedTransport{
		next: next,
		rl: &rateLimiter{
			rate:        config.Limit(),
			burst:       burst,
			lastCleanup: time.Now(),
		},
		keyFn:  keyExtractor,
		config: config,
	}
}

func (t *rateLimitedTransport) Do(ctx context.Context, req Request) (Response, error) {
	key := t.keyFn(req)
	if key == "" {
		slogx.FromContext(ctx).Warn("rate limit: unable to extract key, sending request", "url", req.URL)
		return t.next.Do(ctx, req)
	}

	if err := t.rl.getLimiter(key).Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit wait for %s: %w", key, err)
	}

	return t.next.Do(ctx, req)
}
