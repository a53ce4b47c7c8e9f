package rbs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/rbs/pkg/realtime"
)

var (
	// ErrNoSession is returned when a usable token record is required but
	// none is stored, and creating one is not allowed.
	ErrNoSession = errors.New("rbs: no session")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("rbs: client closed")
)

// CodeUnknown is the error code used when the backend did not provide one.
const CodeUnknown = 512

// Token acquisition operations, reported in TokenAcquisitionError.Op.
const (
	OpAnonymous   = "anonymous"
	OpRefresh     = "refresh"
	OpCustomToken = "custom_token"
)

// TokenAcquisitionError reports a failed attempt to obtain tokens. It only
// aborts the call that triggered it; the stored record is left untouched.
type TokenAcquisitionError struct {
	Op  string
	Err error
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("rbs: token acquisition (%s) failed: %v", e.Op, e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error { return e.Err }

// ActionError is a non-2xx answer from the backend.
type ActionError struct {
	HTTPStatusCode int    `json:"httpStatusCode"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rbs: request failed with status %d (code %d)", e.HTTPStatusCode, e.Code)
	}
	return fmt.Sprintf("rbs: request failed with status %d (code %d): %s", e.HTTPStatusCode, e.Code, e.Message)
}

// DisplayDialog reports whether the error is meant to be shown to the end
// user: any 4xx status, or a code in 0..121 or 1000..1021.
func (e *ActionError) DisplayDialog() bool {
	if e.HTTPStatusCode >= http.StatusBadRequest && e.HTTPStatusCode < http.StatusInternalServerError {
		return true
	}
	return (e.Code >= 0 && e.Code <= 121) || (e.Code >= 1000 && e.Code <= 1021)
}

// ConnectionError is delivered to realtime observers; it never fails a Send.
type ConnectionError = realtime.ConnectionError

// ConfigurationError reports an invalid configuration value or argument.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rbs: invalid %s: %s", e.Field, e.Reason)
}
