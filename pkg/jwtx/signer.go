package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs. The client never
// signs tokens for the backend; signers exist for local fake backends and
// tests that need realistic tokens.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256Signer signs tokens with a shared secret.
type HS256Signer struct {
	key []byte
}

// NewSignerHS256 creates an HS256 signer. The key must not be empty.
func NewSignerHS256(key []byte) (*HS256Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("jwtx: empty HS256 key")
	}
	return &HS256Signer{key: key}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.key)
}
