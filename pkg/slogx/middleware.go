package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/idx"
)

// RequestIDHeader carries the client generated request id to the backend.
const RequestIDHeader = "X-Request-ID"

// RoundTripper logs outbound requests and attaches a request id header when
// the caller has not set one.
type RoundTripper struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewRoundTripper wraps base (http.DefaultTransport when nil).
func NewRoundTripper(base http.RoundTripper, logger *slog.Logger) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{Base: base, Logger: logger}
}

func (rt *RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	logger := rt.Logger
	if logger == nil {
		logger = FromContext(r.Context())
	}
	logger = logger.With(
		"req_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
	)

	resp, err := rt.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
