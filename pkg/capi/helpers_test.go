package capi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/companion/pkg/capi"
)

// authServer plays the authorization host.
type authServer struct {
	*httptest.Server

	mu           sync.Mutex
	refreshCalls int
	codeCalls    int
	forms        []url.Values
	status       int
	accessToken  string
	refreshToken string
	expiresIn    int
	errBody      string
	// body failure after a 200 header
	truncate bool
	stall    bool
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	a := &authServer{
		status:       http.StatusOK,
		accessToken:  "new-access",
		refreshToken: "new-refresh",
		expiresIn:    3600,
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.Close)
	return a
}

func (a *authServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/token" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseForm()

	a.mu.Lock()
	a.forms = append(a.forms, r.PostForm)
	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		a.refreshCalls++
	case "authorization_code":
		a.codeCalls++
	}
	status, errBody := a.status, a.errBody
	truncate, stall := a.truncate, a.stall
	payload := map[string]any{
		"access_token":  a.accessToken,
		"refresh_token": a.refreshToken,
		"expires_in":    a.expiresIn,
		"token_type":    "Bearer",
	}
	a.mu.Unlock()

	switch {
	case truncate:
		writeTruncated(w)
		return
	case stall:
		writeStalled(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		if errBody == "" {
			errBody = `{"error":"invalid_grant","error_description":"refresh token revoked"}`
		}
		_, _ = w.Write([]byte(errBody))
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeTruncated promises a 500 byte body, sends a fragment and drops the
// connection.
func writeTruncated(w http.ResponseWriter) {
	conn, buf, err := w.(http.Hijacker).Hijack()
	if err != nil {
		return
	}
	_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 500\r\n\r\n{\"access_token\":\"a")
	_ = buf.Flush()
	_ = conn.Close()
}

// writeStalled sends the header and a fragment, then stops writing until the
// client gives up.
func writeStalled(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", "500")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"access_token":"a`))
	w.(http.Flusher).Flush()
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func (a *authServer) set(fn func(a *authServer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *authServer) counts() (refresh, code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls, a.codeCalls
}

func (a *authServer) lastForm() url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.forms) == 0 {
		return nil
	}
	return a.forms[len(a.forms)-1]
}

func testConfig(t *testing.T, authURL, apiURL string) capi.Config {
	t.Helper()
	cfg := capi.DefaultConfig()
	cfg.ClientID = "test-client"
	cfg.AuthServerURL = authURL
	cfg.APIServerURL = apiURL
	cfg.CredentialDir = t.TempDir()
	cfg.HTTPTimeout = 2 * time.Second
	return cfg
}

func writeCredential(t *testing.T, cfg capi.Config, identity, access, refresh string, expiry time.Time) string {
	t.Helper()
	path := capi.CredentialPath(cfg.CredentialDir, identity)
	c := capi.LoadCredential(path)
	c.AccessToken = access
	c.RefreshToken = refresh
	c.Expiry = expiry
	require.NoError(t, c.Save())
	return path
}

func readCredentialFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func authURLState(t *testing.T, authURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query()
}
