// Package backendtest is an in-process stand-in for the RBS backend. It
// issues real HS256 tokens, routes actions to registered handlers, serves
// the realtime socket, and counts every call so tests can assert on traffic.
package backendtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/httpx"
	"github.com/aussiebroadwan/rbs/pkg/idx"
	"github.com/aussiebroadwan/rbs/pkg/jwtx"
	"github.com/aussiebroadwan/rbs/pkg/slogx"
	"github.com/gorilla/websocket"
)

// Endpoint names used by Calls and FailNext.
const (
	EndpointAnonymous   = "anonymous"
	EndpointRefresh     = "refresh"
	EndpointCustomToken = "custom_token"
	EndpointSignOut     = "signout"
	EndpointAction      = "action"
	EndpointRealtime    = "realtime"
)

// Error codes returned in {code, message} bodies.
const (
	CodeInvalidRequest  = 1000
	CodeInvalidToken    = 1001
	CodeActionNotFound  = 1004
	CodeProjectMismatch = 1005
)

// ActionCall is what an ActionHandler sees.
type ActionCall struct {
	ProjectID string
	Action    string
	Method    string
	UserID    string
	Payload   map[string]any
	Header    http.Header
}

// ActionHandler answers an action with a status code and a JSON body. A nil
// body sends no content.
type ActionHandler func(call ActionCall) (int, any)

type failure struct {
	status int
	body   any
}

// Server is a fake backend bound to a local httptest server.
type Server struct {
	*httptest.Server

	ProjectID string

	signer   *jwtx.HS256Signer
	verifier *jwtx.HS256Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	now         func() time.Time
	accessTTL   time.Duration
	refreshTTL  time.Duration
	calls       map[string]int
	failures    map[string][]failure
	actions     map[string]ActionHandler
	refreshes   map[string]refreshGrant
	sockets     map[*websocket.Conn]struct{}
	nextUser    int
	lastHeaders http.Header
}

type refreshGrant struct {
	userID    string
	anonymous bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs every request through slogx.HTTPMiddleware.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets the server clock, which decides iat/exp of issued tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTokenTTL sets the lifetimes of issued tokens.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// SigningKey is shared by the fake backend and tests that mint custom tokens.
var SigningKey = []byte("backendtest-signing-key")

// New starts a server for projectID.
func New(projectID string, opts ...Option) *Server {
	signer, err := jwtx.NewSignerHS256(SigningKey)
	if err != nil {
		panic(err)
	}

	s := &Server{
		ProjectID:  projectID,
		signer:     signer,
		logger:     slogx.Discard(),
		now:        time.Now,
		accessTTL:  jwtx.DefaultAccessTokenTTL,
		refreshTTL: jwtx.DefaultRefreshTokenTTL,
		calls:      make(map[string]int),
		failures:   make(map[string][]failure),
		actions:    make(map[string]ActionHandler),
		refreshes:  make(map[string]refreshGrant),
		sockets:    make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = jwtx.NewVerifierHS256(SigningKey, 0, s.clock)

	s.Server = httptest.NewServer(httpx.Chain(s.routes(), slogx.HTTPMiddleware(s.logger)))
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /public/anonymous-auth", s.handleAnonymous)
	mux.HandleFunc("POST /public/auth-refresh", s.handleRefresh)
	mux.HandleFunc("POST /public/auth-with-custom-token", s.handleCustomToken)
	mux.Handle("POST /user/signout", httpx.Chain(http.HandlerFunc(s.handleSignOut), httpx.BearerAuth(s.verifier)))
	mux.HandleFunc("GET /public/action/{projectId}/{action}", s.handlePublicAction)
	mux.Handle("POST /user/action/{projectId}/{action}", httpx.Chain(http.HandlerFunc(s.handleUserAction), httpx.BearerAuth(s.verifier)))
	mux.HandleFunc("GET /realtime", s.handleRealtime)
	return mux
}

// Close stops the server and drops every socket.
func (s *Server) Close() {
	s.DropSockets()
	s.Server.Close()
}

// SetClock replaces the server clock.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Handle registers fn for action.
func (s *Server) Handle(action string, fn ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// FailNext makes the next call to endpoint answer status with body.
func (s *Server) FailNext(endpoint string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], failure{status: status, body: body})
}

// Calls returns how many requests endpoint has received.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// LastHeaders returns the headers of the most recent action call.
func (s *Server) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders.Clone()
}

// MintCustomToken issues a custom token for userID, as a developer backend
// would.
func (s *Server) MintCustomToken(userID string) string {
	tok, err := s.signer.Sign(jwtx.NewClaims(userID, s.ProjectID, false, 5*time.Minute, s.clock()))
	if err != nil {
		panic(err)
	}
	return tok
}

// MintTokens issues a token pair for userID with explicit lifetimes, for
// tests that seed a store.
func (s *Server) MintTokens(userID string, anonymous bool, accessTTL, refreshTTL time.Duration) (access, refresh string) {
	return s.mint(userID, anonymous, accessTTL, refreshTTL)
}

// hit counts a call and returns a queued failure, if any.
func (s *Server) hit(endpoint string) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[endpoint]++
	queued := s.failures[endpoint]
	if len(queued) == 0 {
		return failure{}, false
	}
	s.failures[endpoint] = queued[1:]
	return queued[0], true
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.hit(EndpointAnonymous); ok {
		writeFailure(w, f)
		return
	}

	q := r.URL.Query()
	if q.Get("projectId") != s.ProjectID {
		writeError(w, http.StatusBadRequest, CodeProjectMismatch, "unknown project")
		return
	}
	if q.Get("clientId") == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "clientId is required")
		return
	}

	s.mu.Lock()
	s.nextUser++
	uid := fmt.Sprintf("anon-%d", s.nextUser)
	s.mu.Unlock()

	s.writeTokens(w, uid, true)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.hit(EndpointRefresh); ok {
		writeFailure(w, f)
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "refreshToken is required")
		return
	}
	if _, err := s.verifier.Verify(body.RefreshToken); err != nil {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid refresh token")
		return
	}

	s.mu.Lock()
	grant, ok := s.refreshes[body.RefreshToken]
	delete(s.refreshes, body.RefreshToken)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "refresh token revoked")
		return
	}

	s.writeTokens(w, grant.userID, grant.anonymous)
}

func (s *Server) handleCustomToken(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.hit(EndpointCustomToken); ok {
		writeFailure(w, f)
		return
	}

	var body struct {
		CustomToken string `json:"customToken"`
		ProjectID   string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomToken == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "customToken is required")
		return
	}
	if body.ProjectID != s.ProjectID {
		writeError(w, http.StatusBadRequest, CodeProjectMismatch, "unknown project")
		return
	}

	claims, err := s.verifier.Verify(body.CustomToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid custom token")
		return
	}
	uid, err := claims.User()
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "custom token has no user")
		return
	}

	s.writeTokens(w, uid, false)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.hit(EndpointSignOut)

	claims, _ := httpx.ClaimsFromContext(r.Context())
	s.mu.Lock()
	for tok, g := range s.refreshes {
		if g.userID == claims.UserID {
			delete(s.refreshes, tok)
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublicAction(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if data := r.URL.Query().Get("data"); data != "" {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil || json.Unmarshal(raw, &payload) != nil {
			s.hit(EndpointAction)
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "data must be base64 encoded json")
			return
		}
	}

	call := ActionCall{
		ProjectID: r.PathValue("projectId"),
		Action:    r.PathValue("action"),
		Method:    r.Method,
		Payload:   payload,
		Header:    r.Header,
	}
	s.serveAction(w, call)
}

func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	payload := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.hit(EndpointAction)
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "body must be a json object")
		return
	}

	call := ActionCall{
		ProjectID: r.PathValue("projectId"),
		Action:    r.PathValue("action"),
		Method:    r.Method,
		UserID:    claims.UserID,
		Payload:   payload,
		Header:    r.Header,
	}
	s.serveAction(w, call)
}

func (s *Server) serveAction(w http.ResponseWriter, call ActionCall) {
	if f, ok := s.hit(EndpointAction); ok {
		writeFailure(w, f)
		return
	}

	s.mu.Lock()
	s.lastHeaders = call.Header.Clone()
	fn := s.actions[call.Action]
	s.mu.Unlock()

	if call.ProjectID != s.ProjectID {
		writeError(w, http.StatusBadRequest, CodeProjectMismatch, "unknown project")
		return
	}
	if fn == nil {
		writeError(w, http.StatusNotFound, CodeActionNotFound, "action not found: "+call.Action)
		return
	}

	status, body := fn(call)
	if body == nil {
		w.WriteHeader(status)
		return
	}
	httpx.WriteJSON(w, status, body)
}

func (s *Server) mint(uid string, anonymous bool, accessTTL, refreshTTL time.Duration) (string, string) {
	now := s.clock()

	access := jwtx.NewClaims(uid, s.ProjectID, anonymous, accessTTL, now)
	access.ID = idx.New().String()
	refresh := jwtx.NewClaims(uid, s.ProjectID, anonymous, refreshTTL, now)
	refresh.ID = idx.New().String()

	at, err := s.signer.Sign(access)
	if err != nil {
		panic(err)
	}
	rt, err := s.signer.Sign(refresh)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	s.refreshes[rt] = refreshGrant{userID: uid, anonymous: anonymous}
	s.mu.Unlock()
	return at, rt
}

func (s *Server) writeTokens(w http.ResponseWriter, uid string, anonymous bool) {
	s.mu.Lock()
	accessTTL, refreshTTL := s.accessTTL, s.refreshTTL
	s.mu.Unlock()

	at, rt := s.mint(uid, anonymous, accessTTL, refreshTTL)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"accessToken":  at,
		"refreshToken": rt,
	})
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	httpx.WriteJSON(w, status, map[string]any{"code": code, "message": msg})
}

func writeFailure(w http.ResponseWriter, f failure) {
	if f.body == nil {
		w.WriteHeader(f.status)
		return
	}
	httpx.WriteJSON(w, f.status, f.body)
}
