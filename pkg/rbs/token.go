package rbs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/jwtx"
)

// StoreKey is where the token record is persisted.
const StoreKey = "io.rtbs.token"

// safetyPad keeps tokens from being used in their final seconds.
const safetyPad = 30 * time.Second

// TokenRecord is the persisted session. It is always replaced as a whole.
type TokenRecord struct {
	ProjectID        string  `json:"projectId"`
	UserID           string  `json:"uid"`
	IsAnonymous      bool    `json:"isAnonym"`
	AccessToken      string  `json:"accessToken"`
	RefreshToken     string  `json:"refreshToken"`
	ClockSkewSeconds float64 `json:"clockSkewSeconds"`
}

// AccessTokenExpiresAt decodes the access token's "exp" claim.
func (r TokenRecord) AccessTokenExpiresAt() (time.Time, error) {
	return expiry("access token", r.AccessToken)
}

// RefreshTokenExpiresAt decodes the refresh token's "exp" claim.
func (r TokenRecord) RefreshTokenExpiresAt() (time.Time, error) {
	return expiry("refresh token", r.RefreshToken)
}

// User returns the identity the record belongs to.
func (r TokenRecord) User() User {
	return User{UID: r.UserID, IsAnonymous: r.IsAnonymous}
}

func expiry(which, token string) (time.Time, error) {
	c, err := jwtx.InspectExpiry(token)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", which, err)
	}
	return c.ExpiresAt.Time, nil
}

type tokenStep int

const (
	stepAnonymous tokenStep = iota
	stepUseCached
	stepRefresh
)

func (s tokenStep) String() string {
	switch s {
	case stepUseCached:
		return "use_cached"
	case stepRefresh:
		return "refresh"
	default:
		return "anonymous"
	}
}

// decide picks what EnsureToken must do with rec. An expired refresh token
// invalidates the whole record, whatever the access token says.
func decide(rec *TokenRecord, projectID string, now time.Time) tokenStep {
	if rec == nil || rec.ProjectID != projectID {
		return stepAnonymous
	}

	safeNow := now.Add(safetyPad + time.Duration(rec.ClockSkewSeconds*float64(time.Second)))

	refreshExp, err := rec.RefreshTokenExpiresAt()
	if err != nil || !refreshExp.After(safeNow) {
		return stepAnonymous
	}

	accessExp, err := rec.AccessTokenExpiresAt()
	if err != nil {
		return stepAnonymous
	}
	if accessExp.After(safeNow) {
		return stepUseCached
	}
	return stepRefresh
}

// tokenResponse is the body of every token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

var errIncompleteTokens = errors.New("token response is missing accessToken or refreshToken")

// newRecord validates a token response and builds the record to persist.
func newRecord(body []byte, projectID string, anonymous bool, now time.Time) (TokenRecord, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenRecord{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return TokenRecord{}, errIncompleteTokens
	}

	claims, err := jwtx.Inspect(tr.AccessToken)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("access token: %w", err)
	}
	if _, err := claims.Expiry(); err != nil {
		return TokenRecord{}, fmt.Errorf("access token: %w", err)
	}
	uid, err := claims.User()
	if err != nil {
		return TokenRecord{}, fmt.Errorf("access token: %w", err)
	}
	if _, err := jwtx.InspectExpiry(tr.RefreshToken); err != nil {
		return TokenRecord{}, fmt.Errorf("refresh token: %w", err)
	}

	return TokenRecord{
		ProjectID:        projectID,
		UserID:           uid,
		IsAnonymous:      anonymous,
		AccessToken:      tr.AccessToken,
		RefreshToken:     tr.RefreshToken,
		ClockSkewSeconds: claims.ClockSkew(now).Seconds(),
	}, nil
}
