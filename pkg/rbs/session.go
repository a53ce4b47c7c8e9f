package rbs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/httpx"
	"github.com/aussiebroadwan/rbs/pkg/idx"
	"github.com/aussiebroadwan/rbs/pkg/jwtx"
	"github.com/aussiebroadwan/rbs/pkg/securestore"
	"github.com/aussiebroadwan/rbs/pkg/slogx"
)

const signOutTimeout = 10 * time.Second

// Session owns the token record. Every read-modify-write of the record runs
// on a single lane, so concurrent callers never race on refresh and at most
// one token request is in flight.
type Session struct {
	cfg   Config
	store securestore.Store
	http  httpx.Transport
	now   func() time.Time
	log   *slog.Logger

	lane     *lane
	notifier *notifier
	bg       sync.WaitGroup

	mu     sync.RWMutex
	status AuthStatus
}

func newSession(cfg Config, store securestore.Store, transport httpx.Transport, now func() time.Time, log *slog.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		store:    store,
		http:     transport,
		now:      now,
		log:      log.With("component", "session"),
		lane:     newLane(),
		notifier: newNotifier(log),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := s.load(ctx)
	if rec != nil && rec.ProjectID != cfg.ProjectID {
		rec = nil
	}
	s.status = statusFor(rec)

	return s
}

// CurrentAuthStatus returns the status as of the last persisted change.
func (s *Session) CurrentAuthStatus() AuthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentUser returns the signed in user, if any.
func (s *Session) CurrentUser() (User, bool) {
	st := s.CurrentAuthStatus()
	if st.State == SignedIn || st.State == SignedInAnonymously {
		return st.User, true
	}
	return User{}, false
}

// SubscribeAuthStatus registers fn for future status changes. The current
// status is not replayed; use CurrentAuthStatus for that. The returned
// function removes the subscription.
func (s *Session) SubscribeAuthStatus(fn func(AuthStatus)) func() {
	return s.notifier.subscribe(fn)
}

// EnsureToken returns a usable token record, reusing the stored one when it
// is still valid, refreshing it when only the access token has expired, and
// creating an anonymous identity otherwise.
func (s *Session) EnsureToken(ctx context.Context) (TokenRecord, error) {
	return s.lane.do(ctx, func(ctx context.Context) (TokenRecord, error) {
		return s.ensure(ctx, true)
	})
}

// CurrentToken is EnsureToken without the anonymous fallback: it returns
// ErrNoSession when no usable record exists. It may still refresh.
func (s *Session) CurrentToken(ctx context.Context) (TokenRecord, error) {
	return s.lane.do(ctx, func(ctx context.Context) (TokenRecord, error) {
		return s.ensure(ctx, false)
	})
}

func (s *Session) ensure(ctx context.Context, allowAnonymous bool) (TokenRecord, error) {
	prev := s.load(ctx)
	step := decide(prev, s.cfg.ProjectID, s.now())
	s.log.Debug("ensure token", "step", step.String())

	var (
		rec TokenRecord
		err error
	)
	switch step {
	case stepUseCached:
		return *prev, nil
	case stepRefresh:
		rec, err = s.refresh(ctx, *prev)
	default:
		if !allowAnonymous {
			return TokenRecord{}, ErrNoSession
		}
		rec, err = s.acquireAnonymous(ctx)
	}
	if err != nil {
		return TokenRecord{}, err
	}

	if err := s.persist(ctx, prev, rec); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

func (s *Session) acquireAnonymous(ctx context.Context) (TokenRecord, error) {
	q := url.Values{
		"projectId": {s.cfg.ProjectID},
		"clientId":  {s.cfg.ClientID},
	}
	if s.cfg.DeveloperID != "" {
		q.Set("developerId", s.cfg.DeveloperID)
	}
	if s.cfg.ServiceID != "" {
		q.Set("serviceId", s.cfg.ServiceID)
	}

	resp, err := s.call(ctx, http.MethodGet, pathAnonymousAuth+"?"+q.Encode(), nil, "")
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpAnonymous, Err: err}
	}

	rec, err := newRecord(resp.Body, s.cfg.ProjectID, true, s.now())
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpAnonymous, Err: err}
	}
	s.log.Info("anonymous session created", "user_id", rec.UserID)
	return rec, nil
}

func (s *Session) refresh(ctx context.Context, prev TokenRecord) (TokenRecord, error) {
	resp, err := s.call(ctx, http.MethodPost, pathAuthRefresh, map[string]string{
		"refreshToken": prev.RefreshToken,
	}, "")
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpRefresh, Err: err}
	}

	rec, err := newRecord(resp.Body, prev.ProjectID, prev.IsAnonymous, s.now())
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpRefresh, Err: err}
	}
	s.log.Debug("tokens refreshed", "user_id", rec.UserID)
	return rec, nil
}

// AuthenticateWithCustomToken replaces the current identity with the one
// carried by a custom token minted by the developer's backend.
func (s *Session) AuthenticateWithCustomToken(ctx context.Context, customToken string) (TokenRecord, error) {
	return s.lane.do(ctx, func(ctx context.Context) (TokenRecord, error) {
		return s.authenticateWithCustomToken(ctx, customToken)
	})
}

func (s *Session) authenticateWithCustomToken(ctx context.Context, customToken string) (TokenRecord, error) {
	if prev := s.load(ctx); prev != nil {
		s.clear(ctx, true)
	}
	s.setStatus(AuthStatus{State: Authenticating}, true)

	rec, err := s.exchangeCustomToken(ctx, customToken)
	if err == nil {
		err = s.persist(ctx, nil, rec)
	}
	if err != nil {
		s.setStatus(AuthStatus{State: SignedOut}, true)
		var tae *TokenAcquisitionError
		if !errors.As(err, &tae) {
			err = &TokenAcquisitionError{Op: OpCustomToken, Err: err}
		}
		return TokenRecord{}, err
	}
	return rec, nil
}

func (s *Session) exchangeCustomToken(ctx context.Context, customToken string) (TokenRecord, error) {
	claims, err := jwtx.Inspect(customToken)
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpCustomToken, Err: fmt.Errorf("custom token: %w", err)}
	}
	uid, err := claims.User()
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpCustomToken, Err: fmt.Errorf("custom token: %w", err)}
	}

	resp, err := s.call(ctx, http.MethodPost, pathAuthCustomToken, map[string]string{
		"customToken": customToken,
		"projectId":   s.cfg.ProjectID,
	}, "")
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpCustomToken, Err: err}
	}

	rec, err := newRecord(resp.Body, s.cfg.ProjectID, false, s.now())
	if err != nil {
		return TokenRecord{}, &TokenAcquisitionError{Op: OpCustomToken, Err: err}
	}
	if rec.UserID != uid {
		s.log.Warn("custom token user differs from issued token", "custom_user_id", uid, "user_id", rec.UserID)
	}
	s.log.Info("signed in with custom token", "user_id", rec.UserID)
	return rec, nil
}

// SignOut forgets the stored identity. The backend is told on a best-effort
// basis; SignOut itself only fails if the client is closed or ctx ends
// before the lane is reached.
func (s *Session) SignOut(ctx context.Context) error {
	_, err := s.lane.do(ctx, func(ctx context.Context) (TokenRecord, error) {
		prev := s.load(ctx)
		if prev != nil && prev.ProjectID == s.cfg.ProjectID {
			if exp, err := prev.AccessTokenExpiresAt(); err == nil && exp.After(s.now()) {
				s.notifySignOut(ctx, prev.AccessToken)
			}
		}
		s.clear(ctx, prev != nil)
		return TokenRecord{}, nil
	})
	return err
}

// notifySignOut tells the backend without holding up the caller.
func (s *Session) notifySignOut(ctx context.Context, accessToken string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signOutTimeout)
		defer cancel()

		if _, err := s.call(ctx, http.MethodPost, pathSignOut, nil, accessToken); err != nil {
			s.log.Warn("backend sign out failed", "error", err)
		}
	}()
}

// load reads the stored record. Read or decode failures count as absent.
func (s *Session) load(ctx context.Context) *TokenRecord {
	b, err := s.store.Get(ctx, StoreKey)
	if err != nil {
		if !errors.Is(err, securestore.ErrNotFound) {
			s.log.Warn("token store read failed", "error", err)
		}
		return nil
	}

	var rec TokenRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		s.log.Warn("stored token record is corrupt", "error", err)
		return nil
	}
	return &rec
}

// persist stores rec and, when the user changed, announces the new status.
// The write completes before any notification is queued.
func (s *Session) persist(ctx context.Context, prev *TokenRecord, rec TokenRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	if err := s.store.Set(ctx, StoreKey, b); err != nil {
		return fmt.Errorf("store token record: %w", err)
	}

	changed := prev == nil || prev.UserID != rec.UserID
	s.setStatus(statusFor(&rec), changed)
	return nil
}

// clear removes the stored record and reports SignedOut if announce is set.
func (s *Session) clear(ctx context.Context, announce bool) {
	if err := s.store.Delete(ctx, StoreKey); err != nil {
		s.log.Warn("token store delete failed", "error", err)
	}
	s.setStatus(AuthStatus{State: SignedOut}, announce)
}

func (s *Session) setStatus(st AuthStatus, announce bool) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	if announce {
		s.notifier.emit(st)
	}
}

// call performs a token endpoint request. Non-2xx answers become
// *ActionError so callers can inspect the backend's code.
func (s *Session) call(ctx context.Context, method, path string, body any, bearer string) (httpx.Response, error) {
	req := httpx.Request{
		Method: method,
		URL:    s.cfg.BaseURL + path,
		Header: http.Header{},
	}
	req.Header.Set(httpx.HeaderAcceptLanguage, s.cfg.Culture)
	req.Header.Set(httpx.HeaderOperationChannel, operationChannel)
	req.Header.Set(slogx.RequestIDHeader, idx.New().String())
	if bearer != "" {
		req.Header.Set(httpx.HeaderAuthorization, httpx.Bearer(bearer))
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return httpx.Response{}, fmt.Errorf("encode request: %w", err)
		}
		req.Body = b
		req.Header.Set(httpx.HeaderContentType, httpx.ContentTypeJSON)
	}

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return httpx.Response{}, err
	}
	if !resp.IsSuccess() {
		return resp, decodeActionError(resp)
	}
	return resp, nil
}

func (s *Session) close() {
	s.lane.close()
	s.bg.Wait()
	s.notifier.close()
}
