package capi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dmitrymomot/companion/pkg/logger"
)

// Token is the result of a successful token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenGranter performs the two token acquisitions a Session needs.
type TokenGranter interface {
	AuthorizationURL(state, verifier string) string
	RefreshGrant(ctx context.Context, refreshToken string) (Token, error)
	AuthorizationCodeGrant(ctx context.Context, code, verifier, redirectURI string) (Token, error)
}

// TokenClient talks to the authorization host.
type TokenClient struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

type TokenClientOption func(*TokenClient)

// WithTokenLogger sets the logger used by the token client.
func WithTokenLogger(l *slog.Logger) TokenClientOption {
	return func(c *TokenClient) {
		c.logger = l
	}
}

// WithTokenHTTPClient replaces the HTTP client used for token requests.
func WithTokenHTTPClient(hc *http.Client) TokenClientOption {
	return func(c *TokenClient) {
		c.httpClient = hc
	}
}

// WithTokenClock sets the clock used when a response carries no expiry.
func WithTokenClock(now func() time.Time) TokenClientOption {
	return func(c *TokenClient) {
		c.now = now
	}
}

// NewTokenClient creates a client for the authorization host in cfg.
func NewTokenClient(cfg Config, opts ...TokenClientOption) *TokenClient {
	base := cfg.authBaseURL()
	c := &TokenClient{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI(),
			Scopes:      []string{"capi"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/auth",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: newHTTPClient(cfg.HTTPTimeout),
		now:        time.Now,
		logger:     logger.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = bufferTokenResponses(c.httpClient)

	return c
}

// AuthorizationURL builds the browser URL for an authorization request bound
// to state and the S256 challenge of verifier.
func (c *TokenClient) AuthorizationURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("audience", "all"),
	)
}

// RefreshGrant exchanges a refresh token for a new token set. A response
// without a new refresh token keeps the old one.
func (c *TokenClient) RefreshGrant(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, fmt.Errorf("%w: %w", ErrRejected, ErrNoRefreshToken)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		err = classifyTokenError(err)
		c.logger.WarnContext(ctx, "refresh grant failed", logger.Error(err))
		return Token{}, err
	}
	return c.convert(tok), nil
}

// AuthorizationCodeGrant redeems an authorization code with the PKCE
// verifier that produced the challenge.
func (c *TokenClient) AuthorizationCodeGrant(ctx context.Context, code, verifier, redirectURI string) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		err = classifyTokenError(err)
		c.logger.WarnContext(ctx, "authorization code grant failed", logger.Error(err))
		return Token{}, err
	}
	return c.convert(tok), nil
}

func (c *TokenClient) convert(tok *oauth2.Token) Token {
	expiry := tok.Expiry
	if expiry.IsZero() {
		// No expires_in: treat the token as due for refresh right away.
		expiry = c.now()
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry.UTC(),
	}
}

// classifyTokenError sorts an exchange failure into ErrTransport or
// ErrRejected. Only an error response from the server, or a 2xx response
// that arrived in full but is unusable, counts as a rejection.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		detail := retrieveErr.ErrorDescription
		if detail == "" {
			detail = retrieveErr.ErrorCode
		}
		if detail == "" {
			return fmt.Errorf("%w: status %d", ErrRejected, status)
		}
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, detail)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		// oauth2 flattens body read failures into this message.
		strings.HasPrefix(err.Error(), "oauth2: cannot fetch token:") {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	// A complete 2xx answer the library could not use, e.g. one without an
	// access token or with a body that is not JSON.
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// maxTokenResponse bounds a buffered token response body.
const maxTokenResponse = 1 << 20

// bufferedTransport reads token responses in full inside the round trip, so
// a body cut short or stalled by the network fails the request itself and
// reaches the caller as a *url.Error.
type bufferedTransport struct {
	base http.RoundTripper
}

func (t *bufferedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func bufferTokenResponses(hc *http.Client) *http.Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	buffered := *hc
	base := buffered.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	buffered.Transport = &bufferedTransport{base: base}
	return &buffered
}
