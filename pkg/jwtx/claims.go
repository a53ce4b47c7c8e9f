package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants used when minting tokens for local testing.
// The real backend decides lifetimes, the client only ever reads them.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the claims carried by access, refresh and custom tokens. Only
// the fields the client reads are declared, anything else in the payload is
// ignored.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the platform user identifier ("userId").
	UserID string `json:"userId,omitempty"`

	// Anonymous is set on tokens minted by the anonymous bootstrap.
	Anonymous bool `json:"anonymous,omitempty"`

	// ProjectID the token was issued for, when the backend includes it.
	ProjectID string `json:"projectId,omitempty"`
}

// NewClaims builds minimally-correct claims for a user token.
func NewClaims(userID, projectID string, anonymous bool, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		Anonymous: anonymous,
		ProjectID: projectID,
	}
}

// Expiry returns the "exp" claim. Tokens without one are unusable, so a
// missing claim is reported as ErrMissingClaim rather than a zero time.
func (c *Claims) Expiry() (time.Time, error) {
	if c.ExpiresAt == nil {
		return time.Time{}, ErrMissingClaim
	}
	return c.ExpiresAt.Time, nil
}

// User returns the "userId" claim, falling back to "sub".
func (c *Claims) User() (string, error) {
	switch {
	case c.UserID != "":
		return c.UserID, nil
	case c.Subject != "":
		return c.Subject, nil
	default:
		return "", ErrMissingClaim
	}
}

// ClockSkew returns server time minus local time as observed through the
// "iat" claim of a freshly issued token. Zero when the claim is absent.
func (c *Claims) ClockSkew(local time.Time) time.Duration {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Sub(local)
}

// ValidAt reports whether the token is still valid at now, with now pushed
// forward by leeway so tokens are not used up to their last second.
func (c *Claims) ValidAt(now time.Time, leeway time.Duration) bool {
	exp, err := c.Expiry()
	if err != nil {
		return false
	}
	return exp.After(now.Add(leeway))
}
