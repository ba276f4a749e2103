// Package calendar owns the Google Calendar session and the event gateway
// that keeps an in-memory view of the configured calendars.
package calendar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/pratiche/internal/secret"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenKey is the key/value entry holding the persisted OAuth token.
const TokenKey = "calendar.token"

const stateTTL = 10 * time.Minute

var (
	ErrAuthExpired      = errors.New("calendar session expired")
	ErrNotAuthenticated = errors.New("calendar not authenticated")
	ErrInvalidState     = errors.New("unknown or expired oauth state")
)

// ClientInitError means the calendar client could not be set up. It is
// memoized: every later EnsureReady returns the same error.
type ClientInitError struct {
	Key string
	Err error
}

func (e *ClientInitError) Error() string {
	if e.Key != "" {
		return "calendar client init: missing " + e.Key
	}
	return "calendar client init: " + e.Err.Error()
}

func (e *ClientInitError) Unwrap() error {
	return e.Err
}

type ReadyState int

const (
	Uninitialized ReadyState = iota
	Loading
	Initializing
	Ready
)

func (s ReadyState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

type AuthState int

const (
	LoggedOut AuthState = iota
	Authenticated
	TokenExpired
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case TokenExpired:
		return "token_expired"
	default:
		return "logged_out"
	}
}

// Status is a snapshot of the session, also sent to subscribers.
type Status struct {
	Ready   string `json:"ready"`
	Auth    string `json:"auth"`
	Email   string `json:"email,omitempty"`
	Expired bool   `json:"expired,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TokenStore persists the token between runs.
type TokenStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

type SessionConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	TokenPassphrase string
	// APIEndpoint overrides the calendar API base URL.
	APIEndpoint string
	// AuthURL and TokenURL override Google's OAuth endpoints.
	AuthURL  string
	TokenURL string
}

type persistedToken struct {
	Token *oauth2.Token `json:"token"`
	Email string        `json:"email"`
}

// Session is the single owner of the calendar client state: readiness,
// OAuth token and account email.
type Session struct {
	cfg    SessionConfig
	tokens TokenStore
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	mu        sync.RWMutex
	ready     ReadyState
	initErr   error
	oauth     *oauth2.Config
	token     *oauth2.Token
	email     string
	auth      AuthState
	states    map[string]time.Time
	listeners []func(Status)
}

func NewSession(cfg SessionConfig, tokens TokenStore, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
		states: make(map[string]time.Time),
	}
}

// EnsureReady initializes the client once. Concurrent callers share the same
// in-flight initialization; success and failure are both memoized.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.RLock()
	ready, initErr := s.ready, s.initErr
	s.mu.RUnlock()

	if ready == Ready {
		return nil
	}
	if initErr != nil {
		return initErr
	}

	ch := s.group.DoChan("init", func() (any, error) {
		return nil, s.initialize()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) initialize() error {
	s.mu.Lock()
	if s.ready == Ready {
		s.mu.Unlock()
		return nil
	}
	if s.initErr != nil {
		err := s.initErr
		s.mu.Unlock()
		return err
	}
	s.ready = Loading
	s.mu.Unlock()

	for _, req := range []struct{ key, value string }{
		{"client_id", s.cfg.ClientID},
		{"client_secret", s.cfg.ClientSecret},
		{"redirect_url", s.cfg.RedirectURL},
	} {
		if strings.TrimSpace(req.value) == "" {
			return s.fail(&ClientInitError{Key: req.key, Err: fmt.Errorf("google %s not configured", req.key)})
		}
	}

	s.setReady(Initializing)

	endpoint := google.Endpoint
	if s.cfg.AuthURL != "" {
		endpoint.AuthURL = s.cfg.AuthURL
	}
	if s.cfg.TokenURL != "" {
		endpoint.TokenURL = s.cfg.TokenURL
	}
	oauthCfg := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		RedirectURL:  s.cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{gcal.CalendarScope},
	}

	if s.cfg.TokenPassphrase == "" {
		s.logger.Warn("no token passphrase configured, calendar token is stored unencrypted")
	}

	restored, err := s.loadToken()
	if err != nil {
		s.logger.Warn("discarding persisted calendar token", "error", err)
		restored = nil
	}

	s.mu.Lock()
	s.oauth = oauthCfg
	if restored != nil && restored.Token != nil {
		s.token = restored.Token
		s.email = restored.Email
		s.auth = Authenticated
	}
	s.ready = Ready
	s.mu.Unlock()

	s.logger.Info("calendar client ready", "authenticated", restored != nil)
	s.notify(false)
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.initErr = err
	s.ready = Uninitialized
	s.mu.Unlock()
	s.logger.Error("calendar client init failed", "error", err)
	s.notify(false)
	return err
}

func (s *Session) setReady(r ReadyState) {
	s.mu.Lock()
	s.ready = r
	s.mu.Unlock()
}

// LoginURL starts the consent flow and returns the URL to redirect the user to.
func (s *Session) LoginURL(ctx context.Context) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}

	state := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	for st, exp := range s.states {
		if now.After(exp) {
			delete(s.states, st)
		}
	}
	s.states[state] = now.Add(stateTTL)
	cfg := s.oauth
	s.mu.Unlock()

	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// CompleteLogin exchanges the authorization code, resolves the account email
// and persists the token.
func (s *Session) CompleteLogin(ctx context.Context, state, code string) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	exp, ok := s.states[state]
	delete(s.states, state)
	cfg := s.oauth
	s.mu.Unlock()
	if !ok || s.now().After(exp) {
		return ErrInvalidState
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	svc, err := s.newService(ctx, tok)
	if err != nil {
		return err
	}
	entry, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("resolve account email: %w", err)
	}

	s.mu.Lock()
	s.token = tok
	s.email = entry.Id
	s.auth = Authenticated
	s.mu.Unlock()

	if err := s.saveToken(persistedToken{Token: tok, Email: entry.Id}); err != nil {
		s.logger.Error("persist calendar token", "error", err)
	}

	s.logger.Info("calendar login completed", "email", entry.Id)
	s.notify(false)
	return nil
}

// Logout drops the token. The client stays Ready.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = nil
	s.email = ""
	s.auth = LoggedOut
	s.mu.Unlock()

	s.clearToken()
	s.logger.Info("calendar logout")
	s.notify(false)
}

// HandleAPIError inspects an error from any calendar call. An authorization
// failure expires the session, forces a logout and is returned wrapping
// ErrAuthExpired. Other errors pass through unchanged.
func (s *Session) HandleAPIError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusUnauthorized {
		return err
	}

	s.mu.Lock()
	s.token = nil
	s.email = ""
	s.auth = TokenExpired
	s.mu.Unlock()

	s.clearToken()
	s.logger.Warn("calendar session expired", "error", err)
	s.notify(true)
	return fmt.Errorf("%w: %v", ErrAuthExpired, err)
}

// Service returns a calendar API client bound to the current token. The token
// is never refreshed silently.
func (s *Session) Service(ctx context.Context) (*gcal.Service, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	if tok == nil {
		return nil, ErrNotAuthenticated
	}
	return s.newService(ctx, tok)
}

func (s *Session) newService(ctx context.Context, tok *oauth2.Token) (*gcal.Service, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))),
	}
	if s.cfg.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.cfg.APIEndpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked(false)
}

func (s *Session) statusLocked(expired bool) Status {
	st := Status{
		Ready:   s.ready.String(),
		Auth:    s.auth.String(),
		Email:   s.email,
		Expired: expired,
	}
	if s.initErr != nil {
		st.Error = s.initErr.Error()
	}
	return st
}

// AccountEmail is the authenticated account, empty when logged out.
func (s *Session) AccountEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth == Authenticated
}

// Subscribe registers fn to receive every status change.
func (s *Session) Subscribe(fn func(Status)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) notify(expired bool) {
	s.mu.RLock()
	st := s.statusLocked(expired)
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) loadToken() (*persistedToken, error) {
	raw, ok, err := s.tokens.Get(TokenKey)
	if err != nil || !ok {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if s.cfg.TokenPassphrase != "" {
		if data, err = secret.Open(data, s.cfg.TokenPassphrase); err != nil {
			return nil, fmt.Errorf("open token: %w", err)
		}
	}

	var pt persistedToken
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &pt, nil
}

func (s *Session) saveToken(pt persistedToken) error {
	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if s.cfg.TokenPassphrase != "" {
		if data, err = secret.Seal(data, s.cfg.TokenPassphrase); err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	return s.tokens.Set(TokenKey, base64.StdEncoding.EncodeToString(data))
}

func (s *Session) clearToken() {
	if err := s.tokens.Delete(TokenKey); err != nil {
		s.logger.Error("clear calendar token", "error", err)
	}
}
