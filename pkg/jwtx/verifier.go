package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSig = errors.New("jwtx: invalid signature")
	ErrExpired    = errors.New("jwtx: token expired")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// HS256Verifier checks tokens produced by an HS256Signer with the same key.
type HS256Verifier struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifierHS256 returns a verifier for key. Expiry is checked against now
// with the given leeway.
func NewVerifierHS256(key []byte, leeway time.Duration, now func() time.Time) *HS256Verifier {
	if now == nil {
		now = time.Now
	}
	return &HS256Verifier{key: key, leeway: leeway, now: now}
}

// Verify parses the token, checks signature and algorithm, then expiry.
func (v *HS256Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSig
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if !claims.ValidAt(v.now(), -v.leeway) {
		return nil, ErrExpired
	}
	return claims, nil
}
