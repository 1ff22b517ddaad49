package capi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/companion/pkg/broadcast"
	"github.com/dmitrymomot/companion/pkg/cache"
	"github.com/dmitrymomot/companion/pkg/logger"
	"github.com/dmitrymomot/companion/pkg/statemachine"
)

// Session owns the login state and credential of one identity at a time.
// Every privileged operation holds the session lock for its whole duration,
// so concurrent callers queue behind an in-flight refresh instead of racing it.
type Session struct {
	cfg        Config
	tokens     TokenGranter
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	events     *broadcast.Broadcaster[Event]
	machine    *statemachine.Machine[State, trigger]
	profile    *cache.TTLCache[string, string]

	mu         sync.Mutex
	identity   string
	credential *Credential
	pending    *challenge
}

type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithClock replaces time.Now for expiry checks and the profile cache.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithHTTPClient replaces the client used for data requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Session) {
		s.httpClient = hc
	}
}

// WithTokenGranter replaces the token endpoint client.
func WithTokenGranter(g TokenGranter) Option {
	return func(s *Session) {
		s.tokens = g
	}
}

// NewSession creates a logged out session.
func NewSession(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.HTTPTimeout),
		logger:     logger.Discard(),
		now:        time.Now,
		events:     broadcast.New[Event](16),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(logger.Component("capi"))
	if s.tokens == nil {
		s.tokens = NewTokenClient(cfg, WithTokenLogger(s.logger), WithTokenClock(s.now))
	}
	ttl := cfg.ProfileCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	s.profile = cache.NewTTLCache[string, string](1, ttl, cache.WithClock(s.now))
	s.machine = statemachine.New[State, trigger](LoggedOut).
		Allow(triggerRefreshed, Authorized, LoggedOut, Authorized).
		Allow(triggerAskForLogin, AwaitingCallback, LoggedOut, AwaitingCallback, Authorized).
		Allow(triggerCodeRedeemed, Authorized, LoggedOut, AwaitingCallback).
		Allow(triggerFailed, LoggedOut, LoggedOut, AwaitingCallback, Authorized).
		Allow(triggerLogOut, LoggedOut, LoggedOut, AwaitingCallback, Authorized)
	s.machine.Observe(func(from, to State, t trigger) {
		s.logger.Debug("session state changed",
			slog.String("from", string(from)),
			logger.State(string(to)),
			slog.String("trigger", string(t)),
		)
	})

	return s
}

// State returns the current session state.
func (s *Session) State() State {
	return s.machine.Current()
}

// Active reports whether data requests can be issued.
func (s *Session) Active() bool {
	return s.machine.Current() == Authorized
}

// Identity returns the identity of the last login, or "" after a logout.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Subscribe returns a subscriber receiving every event the session publishes
// until ctx is done.
func (s *Session) Subscribe(ctx context.Context) broadcast.Subscriber[Event] {
	return s.events.Subscribe(ctx)
}

// Close shuts down event delivery.
func (s *Session) Close() error {
	return s.events.Close()
}

// UserState reports what is stored on disk for identity.
func (s *Session) UserState(identity string) UserState {
	return StoredUserState(s.cfg.CredentialDir, identity)
}

// LogIn activates identity. Stored credentials are refreshed first; when
// that is impossible the returned event is AwaitingCallback and carries the
// URL the user must open in a browser. A transport failure is returned as
// an error and leaves the stored credential untouched.
func (s *Session) LogIn(ctx context.Context, identity string) (Event, error) {
	if s.cfg.ClientID == "" {
		return Event{}, ErrNoClientID
	}
	if identity == "" {
		return Event{}, ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == identity && s.machine.Current() == Authorized {
		return s.event(Authorized, nil, ""), nil
	}

	s.identity = identity
	s.credential = LoadCredential(CredentialPath(s.cfg.CredentialDir, identity))
	s.pending = nil
	s.machine.Reset()
	s.profile.Clear()

	err := s.refreshLocked(ctx)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "logged in with stored credentials", logger.Identity(identity))
		return s.event(Authorized, nil, ""), nil
	case errors.Is(err, ErrTransport):
		return s.event(LoggedOut, err, ""), err
	default:
		s.logger.InfoContext(ctx, "interactive login required",
			logger.Identity(identity),
			logger.Error(err),
		)
		return s.askForLoginLocked(ctx)
	}
}

// URLCallBack completes an interactive login with the redirect URL handed
// over by the browser. The URL is untrusted: it is checked for the redirect
// prefix and the pending state nonce before the code is redeemed. Any failure
// leaves the session LoggedOut and yields AuthorizationFailed.
func (s *Session) URLCallBack(ctx context.Context, rawURL string) (ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			ev = s.failAuthorizationLocked(ctx, fmt.Errorf("%w: %v", ErrCallbackPanic, r))
		}
	}()

	if err := s.redeemLocked(ctx, rawURL); err != nil {
		return s.failAuthorizationLocked(ctx, err)
	}

	s.logger.InfoContext(ctx, "authorization completed", logger.Identity(s.identity))
	return s.publish(Authorized, nil, "")
}

func (s *Session) redeemLocked(ctx context.Context, rawURL string) error {
	redirect := s.cfg.RedirectURI()
	if !strings.HasPrefix(rawURL, redirect) {
		return ErrMalformedCallback
	}
	_, query, ok := strings.Cut(rawURL, "?")
	query, _, _ = strings.Cut(query, "#")
	if !ok || query == "" {
		return ErrMalformedCallback
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCallback, err)
	}

	states := params["state"]
	if len(states) != 1 || !s.pending.matches(states[0]) {
		return ErrStateMismatch
	}
	pending := s.pending
	s.pending = nil

	code := params.Get("code")
	if code == "" {
		return &AuthorizationError{
			Code:        params.Get("error"),
			Description: params.Get("error_description"),
		}
	}
	if s.credential == nil {
		return ErrNoIdentity
	}

	tok, err := s.tokens.AuthorizationCodeGrant(ctx, code, pending.verifier, redirect)
	if err != nil {
		return err
	}
	s.credential.apply(tok)
	if err := s.credential.Save(); err != nil {
		return err
	}
	s.profile.Clear()
	s.fire(triggerCodeRedeemed)
	return nil
}

func (s *Session) failAuthorizationLocked(ctx context.Context, err error) Event {
	s.logger.WarnContext(ctx, "authorization failed",
		logger.Identity(s.identity),
		logger.Error(err),
	)
	s.fire(triggerFailed)
	return s.publish(AuthorizationFailed, err, "")
}

// LogOut clears the credential of the active identity in memory and on disk.
// It is idempotent and safe before any login.
func (s *Session) LogOut(ctx context.Context) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logOutLocked(ctx)
	ev := s.event(LoggedOut, nil, "")
	s.identity = ""
	s.credential = nil
	return ev
}

// Disconnect is LogOut without touching the stored credential file.
func (s *Session) Disconnect(ctx context.Context) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnectLocked(ctx)
	ev := s.event(LoggedOut, nil, "")
	s.identity = ""
	s.credential = nil
	return ev
}

// LogOutIdentity deletes the stored credential of identity, logging out
// first when it is the active one.
func (s *Session) LogOutIdentity(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if identity == s.identity {
		s.disconnectLocked(ctx)
		s.identity = ""
		s.credential = nil
	}
	path := CredentialPath(s.cfg.CredentialDir, identity)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("capi: failed to remove credential: %w", err)
	}
	return nil
}

func (s *Session) disconnectLocked(ctx context.Context) {
	prev := s.machine.Current()
	if s.credential != nil {
		s.credential.Clear()
	}
	s.pending = nil
	s.profile.Clear()
	s.fire(triggerLogOut)
	if prev != LoggedOut {
		s.logger.InfoContext(ctx, "logged out", logger.Identity(s.identity))
		s.publish(LoggedOut, nil, "")
	}
}

func (s *Session) logOutLocked(ctx context.Context) {
	s.disconnectLocked(ctx)
	if s.credential == nil {
		return
	}
	if err := s.credential.Save(); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist cleared credential",
			logger.Identity(s.identity),
			logger.Error(err),
		)
	}
}

// refreshLocked redeems the stored refresh token. Transport failures leave
// everything as it was; any other failure burns the stored tokens.
func (s *Session) refreshLocked(ctx context.Context) error {
	if s.credential == nil || s.credential.RefreshToken == "" {
		s.logOutLocked(ctx)
		return ErrNoRefreshToken
	}

	tok, err := s.tokens.RefreshGrant(ctx, s.credential.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			s.logger.WarnContext(ctx, "token refresh unavailable, keeping credentials",
				logger.Identity(s.identity),
				logger.Error(err),
			)
			return err
		}
		s.logOutLocked(ctx)
		return err
	}

	s.credential.apply(tok)
	if err := s.credential.Save(); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist refreshed credential",
			logger.Identity(s.identity),
			logger.Error(err),
		)
	}
	s.fire(triggerRefreshed)
	s.publish(RefreshSucceeded, nil, "")
	return nil
}

func (s *Session) askForLoginLocked(ctx context.Context) (Event, error) {
	ch, err := newChallenge()
	if err != nil {
		return s.failAuthorizationLocked(ctx, err), err
	}
	s.pending = ch
	s.fire(triggerAskForLogin)
	return s.publish(AwaitingCallback, nil, s.tokens.AuthorizationURL(ch.nonce, ch.verifier)), nil
}

func (s *Session) fire(t trigger) {
	if _, err := s.machine.Fire(t); err != nil {
		s.logger.Error("unexpected session transition", logger.Error(err))
	}
}

func (s *Session) event(state State, err error, authURL string) Event {
	return Event{
		State:    state,
		Identity: s.identity,
		AuthURL:  authURL,
		Err:      err,
		At:       s.now(),
	}
}

func (s *Session) publish(state State, err error, authURL string) Event {
	ev := s.event(state, err, authURL)
	s.events.Publish(ev)
	return ev
}
