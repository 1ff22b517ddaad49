package capi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/companion/pkg/capi"
)

type apiHit struct {
	path  string
	token string
	agent string
}

// apiServer plays the Companion API host. Handlers keyed by path override
// the default 200 "{}" answer.
type apiServer struct {
	*httptest.Server

	mu       sync.Mutex
	hits     []apiHit
	handlers map[string]http.HandlerFunc
}

func newAPIServer(t *testing.T, handlers map[string]http.HandlerFunc) *apiServer {
	t.Helper()
	a := &apiServer{handlers: handlers}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.hits = append(a.hits, apiHit{
			path:  r.URL.Path,
			token: r.Header.Get("Authorization"),
			agent: r.Header.Get("User-Agent"),
		})
		h := a.handlers[r.URL.Path]
		a.mu.Unlock()
		if h != nil {
			h(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *apiServer) hitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.hits)
}

func (a *apiServer) lastHit() apiHit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[len(a.hits)-1]
}

// authorizedSession returns a session logged in through a refresh whose
// new access token expires after expiresIn seconds.
func authorizedSession(t *testing.T, auth *authServer, api *apiServer, opts ...capi.Option) (*capi.Session, capi.Config) {
	t.Helper()
	cfg := testConfig(t, auth.URL, api.URL)
	writeCredential(t, cfg, "cmdr", "old-access", "old-refresh", time.Now().Add(-time.Hour))
	s := capi.NewSession(cfg, opts...)
	_, err := s.LogIn(context.Background(), "cmdr")
	require.NoError(t, err)
	require.Equal(t, capi.Authorized, s.State())
	return s, cfg
}

func TestSession_Get(t *testing.T) {
	t.Parallel()

	t.Run("unauthorized before login", func(t *testing.T) {
		t.Parallel()
		api := newAPIServer(t, nil)
		s := capi.NewSession(testConfig(t, "http://127.0.0.1:1", api.URL))

		resp := s.Get(context.Background(), capi.PathProfile)

		assert.False(t, resp.HasBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Zero(t, api.hitCount())
	})

	t.Run("valid token issues no refresh", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		api := newAPIServer(t, nil)
		s, _ := authorizedSession(t, auth, api)

		resp := s.Get(context.Background(), capi.PathMarket)

		require.True(t, resp.OK())
		assert.Equal(t, `{"ok":true}`, resp.Body)
		refresh, _ := auth.counts()
		assert.Equal(t, 1, refresh, "only the login refresh")
		hit := api.lastHit()
		assert.Equal(t, "Bearer new-access", hit.token)
		assert.Equal(t, "EDCD-Companion-1.0", hit.agent)
	})

	t.Run("expired token refreshes once and persists before the call", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		auth.set(func(a *authServer) { a.expiresIn = 30 })
		var seenOnDisk atomic.Value
		var path string
		api := newAPIServer(t, map[string]http.HandlerFunc{
			capi.PathShipyard: func(w http.ResponseWriter, r *http.Request) {
				seenOnDisk.Store(capi.LoadCredential(path).AccessToken)
				_, _ = w.Write([]byte(`{"ships":[]}`))
			},
		})
		s, cfg := authorizedSession(t, auth, api)
		path = capi.CredentialPath(cfg.CredentialDir, "cmdr")
		auth.set(func(a *authServer) {
			a.accessToken = "second-access"
			a.expiresIn = 3600
		})

		resp := s.Get(context.Background(), capi.PathShipyard)

		require.True(t, resp.OK())
		refresh, _ := auth.counts()
		assert.Equal(t, 2, refresh)
		assert.Equal(t, "Bearer second-access", api.lastHit().token)
		assert.Equal(t, "second-access", seenOnDisk.Load())
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		auth.set(func(a *authServer) { a.expiresIn = 30 })
		api := newAPIServer(t, nil)
		s, _ := authorizedSession(t, auth, api)
		auth.set(func(a *authServer) { a.expiresIn = 3600 })

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.True(t, s.Get(context.Background(), capi.PathMarket).OK())
			}()
		}
		wg.Wait()

		refresh, _ := auth.counts()
		assert.Equal(t, 2, refresh)
		assert.Equal(t, 8, api.hitCount())
	})

	t.Run("refresh transport failure is service unavailable", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		auth.set(func(a *authServer) { a.expiresIn = 30 })
		api := newAPIServer(t, nil)
		s, _ := authorizedSession(t, auth, api)
		auth.Close()

		resp := s.Get(context.Background(), capi.PathMarket)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, capi.Authorized, s.State())
		assert.Zero(t, api.hitCount())
	})

	t.Run("refresh response cut short is service unavailable", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		auth.set(func(a *authServer) { a.expiresIn = 30 })
		api := newAPIServer(t, nil)
		s, cfg := authorizedSession(t, auth, api)
		auth.set(func(a *authServer) { a.truncate = true })

		resp := s.Get(context.Background(), capi.PathMarket)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, capi.Authorized, s.State())
		assert.Zero(t, api.hitCount())
		stored := capi.LoadCredential(capi.CredentialPath(cfg.CredentialDir, "cmdr"))
		assert.Equal(t, "new-refresh", stored.RefreshToken)
	})

	t.Run("refresh rejection asks for login", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		auth.set(func(a *authServer) { a.expiresIn = 30 })
		api := newAPIServer(t, nil)
		s, _ := authorizedSession(t, auth, api)
		auth.set(func(a *authServer) { a.status = http.StatusUnauthorized })
		sub := s.Subscribe(context.Background())
		defer sub.Close()

		resp := s.Get(context.Background(), capi.PathMarket)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, capi.AwaitingCallback, s.State())
		assert.Equal(t, capi.LoggedOut, nextEvent(t, sub.C()).State)
		assert.Equal(t, capi.AwaitingCallback, nextEvent(t, sub.C()).State)
	})

	t.Run("api host unreachable", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		api := newAPIServer(t, nil)
		s, _ := authorizedSession(t, auth, api)
		api.Close()

		resp := s.Get(context.Background(), capi.PathMarket)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.False(t, resp.HasBody)
	})

	t.Run("found without location", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		api := newAPIServer(t, map[string]http.HandlerFunc{
			capi.PathMarket: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusFound)
			},
		})
		s, _ := authorizedSession(t, auth, api)

		resp := s.Get(context.Background(), capi.PathMarket)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.False(t, resp.HasBody)
	})

	t.Run("non-2xx keeps body on get and drops it on endpoints", func(t *testing.T) {
		t.Parallel()
		auth := newAuthServer(t)
		api := newAPIServer(t, map[string]http.HandlerFunc{
			capi.PathMarket: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte("not docked"))
			},
		})
		s, _ := authorizedSession(t, auth, api)

		raw := s.Get(context.Background(), capi.PathMarket)
		assert.Equal(t, http.StatusNotFound, raw.StatusCode)
		assert.Equal(t, "not docked", raw.Body)

		market := s.Market(context.Background(), false)
		assert.Equal(t, http.StatusNotFound, market.StatusCode)
		assert.False(t, market.HasBody)
	})
}

func TestSession_EndpointNoContent(t *testing.T) {
	t.Parallel()

	auth := newAuthServer(t)
	noContent := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	api := newAPIServer(t, map[string]http.HandlerFunc{
		capi.PathMarket:         noContent,
		capi.PathShipyard:       noContent,
		capi.PathFleetCarrier:   noContent,
		capi.PathCommunityGoals: noContent,
	})
	s, _ := authorizedSession(t, auth, api)
	ctx := context.Background()

	for name, fn := range map[string]func(context.Context, bool) capi.Response{
		"market":         s.Market,
		"shipyard":       s.Shipyard,
		"fleetcarrier":   s.FleetCarrier,
		"communitygoals": s.CommunityGoals,
	} {
		empty := fn(ctx, true)
		assert.True(t, empty.HasBody, name)
		assert.Empty(t, empty.Body, name)
		assert.Equal(t, http.StatusNoContent, empty.StatusCode, name)

		absent := fn(ctx, false)
		assert.False(t, absent.HasBody, name)
		assert.Equal(t, http.StatusNoContent, absent.StatusCode, name)
	}
}

func TestSession_ProfileCache(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	auth := newAuthServer(t)
	api := newAPIServer(t, map[string]http.HandlerFunc{
		capi.PathProfile: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"commander":{"id":1,"name":"Jameson"},"lastSystem":{"name":"Lave"}}`))
		},
	})
	s, _ := authorizedSession(t, auth, api, capi.WithClock(clock))
	ctx := context.Background()

	first := s.Profile(ctx, false)
	require.True(t, first.OK())
	second := s.Profile(ctx, false)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, api.hitCount())

	s.Profile(ctx, true)
	assert.Equal(t, 2, api.hitCount())

	advance(31 * time.Second)
	s.Profile(ctx, false)
	assert.Equal(t, 3, api.hitCount())

	p, err := capi.ParseProfile(first.Body)
	require.NoError(t, err)
	assert.Equal(t, "Jameson", p.Commander.Name)
	assert.Equal(t, "Lave", p.LastSystem.Name)

	s.LogOut(ctx)
	assert.Equal(t, http.StatusUnauthorized, s.Profile(ctx, false).StatusCode)
}

func TestSession_Journal(t *testing.T) {
	t.Parallel()

	auth := newAuthServer(t)
	api := newAPIServer(t, map[string]http.HandlerFunc{
		"/journal/2024/03/01": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{\"timestamp\":\"2024-03-01T10:00:00Z\",\"event\":\"Docked\"}\n"))
		},
		"/journal/2024/03/02": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("journal UNAVAILABLE"))
		},
		"/journal/2024/03/03": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		"/journal/2024/03/04": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(" {} "))
		},
	})
	s, _ := authorizedSession(t, auth, api)
	ctx := context.Background()

	got, err := s.JournalDate(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.True(t, got.OK())
	assert.Contains(t, got.Body, "Docked")
	assert.Equal(t, "/journal/2024/03/01", api.lastHit().path)

	for _, date := range []string{"2024/03/02", "2024-03-03", "2024-03-04"} {
		resp, err := s.JournalDate(ctx, date)
		require.NoError(t, err)
		assert.False(t, resp.HasBody, date)
		assert.True(t, resp.StatusCode >= 200 && resp.StatusCode < 300, date)
	}

	_, err = s.JournalDate(ctx, "yesterday")
	assert.Error(t, err)
}
