package capi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Server selects which Companion API host data requests go to.
type Server string

const (
	ServerLive   Server = "live"
	ServerLegacy Server = "legacy"
	ServerBeta   Server = "beta"
)

var serverURLs = map[Server]string{
	ServerLive:   "https://companion.orerve.net",
	ServerLegacy: "https://legacy-companion.orerve.net",
	ServerBeta:   "https://pts-companion.orerve.net",
}

// URL returns the base URL of the API host.
func (s Server) URL() string {
	return serverURLs[s]
}

// UnmarshalText lets the env loader reject unknown server names.
func (s *Server) UnmarshalText(text []byte) error {
	v := Server(strings.ToLower(strings.TrimSpace(string(text))))
	if _, ok := serverURLs[v]; !ok {
		return fmt.Errorf("unknown companion server %q", string(text))
	}
	*s = v
	return nil
}

// Config holds the Companion API client configuration.
type Config struct {
	ClientID        string        `env:"CAPI_CLIENT_ID"`
	URIScheme       string        `env:"CAPI_URI_SCHEME" envDefault:"companion"`
	Server          Server        `env:"CAPI_SERVER" envDefault:"live"`
	APIServerURL    string        `env:"CAPI_API_SERVER"`
	AuthServerURL   string        `env:"CAPI_AUTH_SERVER" envDefault:"https://auth.frontierstore.net"`
	CredentialDir   string        `env:"CAPI_CREDENTIAL_DIR" envDefault:"."`
	UserAgent       string        `env:"CAPI_USER_AGENT" envDefault:"EDCD-Companion-1.0"`
	HTTPTimeout     time.Duration `env:"CAPI_HTTP_TIMEOUT" envDefault:"10s"`
	ProfileCacheTTL time.Duration `env:"CAPI_PROFILE_CACHE_TTL" envDefault:"30s"`
	ExpirySkew      time.Duration `env:"CAPI_EXPIRY_SKEW" envDefault:"60s"`
}

// DefaultConfig returns the configuration used when nothing is set in the
// environment. ClientID is left empty.
func DefaultConfig() Config {
	return Config{
		URIScheme:       "companion",
		Server:          ServerLive,
		AuthServerURL:   "https://auth.frontierstore.net",
		CredentialDir:   ".",
		UserAgent:       "EDCD-Companion-1.0",
		HTTPTimeout:     10 * time.Second,
		ProfileCacheTTL: 30 * time.Second,
		ExpirySkew:      60 * time.Second,
	}
}

// RedirectURI is the fixed URI the authorization server sends the browser
// back to.
func (c Config) RedirectURI() string {
	return c.URIScheme + "://auth/"
}

// APIBaseURL returns the host data requests are sent to. APIServerURL
// overrides the Server selection.
func (c Config) APIBaseURL() string {
	if c.APIServerURL != "" {
		return strings.TrimRight(c.APIServerURL, "/")
	}
	if u := c.Server.URL(); u != "" {
		return u
	}
	return ServerLive.URL()
}

func (c Config) authBaseURL() string {
	return strings.TrimRight(c.AuthServerURL, "/")
}

// newHTTPClient builds a client whose connect, TLS and read phases are each
// bounded by timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{
		Transport: transport,
		Timeout:   2 * timeout,
	}
}
