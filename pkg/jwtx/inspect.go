package jwtx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrMissingClaim = errors.New("jwtx: missing required claim")
)

// parser never validates exp/nbf itself; expiry decisions belong to the
// session which applies its own skew and safety pad.
var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Inspect decodes the claims of a token without verifying its signature. The
// client is not the audience that verifies tokens, it only needs to know who
// the token belongs to and when it expires.
func Inspect(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return claims, nil
}

// InspectExpiry is a shorthand for reading the "exp" claim of a token.
func InspectExpiry(token string) (Claims, error) {
	c, err := Inspect(token)
	if err != nil {
		return Claims{}, err
	}
	if _, err := c.Expiry(); err != nil {
		return Claims{}, err
	}
	return *c, nil
}
