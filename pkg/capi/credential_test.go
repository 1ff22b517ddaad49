package capi_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/companion/pkg/capi"
)

func TestLoadCredential(t *testing.T) {
	t.Parallel()

	t.Run("missing file yields empty credential", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "nobody.cred")

		c := capi.LoadCredential(path)

		assert.Empty(t, c.AccessToken)
		assert.Empty(t, c.RefreshToken)
		assert.Equal(t, path, c.Path())
		assert.True(t, c.Expired(time.Now(), time.Minute))
	})

	t.Run("malformed file yields empty credential", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "broken.cred")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		c := capi.LoadCredential(path)

		assert.False(t, c.HasTokens())
		assert.Equal(t, path, c.Path())
	})

	t.Run("null tokens are read as empty", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "cleared.cred")
		body := `{"accessToken":null,"refreshToken":null,"tokenExpiry":"2000-01-01T00:00:00Z"}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		c := capi.LoadCredential(path)

		assert.False(t, c.HasTokens())
		assert.Equal(t, 2000, c.Expiry.Year())
	})
}

func TestCredential_SaveAndClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "cmdr.cred")
	expiry := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

	c := capi.LoadCredential(path)
	c.AccessToken = "access"
	c.RefreshToken = "refresh"
	c.Expiry = expiry
	require.NoError(t, c.Save())

	loaded := capi.LoadCredential(path)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
	assert.True(t, expiry.Equal(loaded.Expiry))

	c.Clear()
	assert.False(t, c.HasTokens())
	assert.Equal(t, "refresh", capi.LoadCredential(path).RefreshToken, "Clear must not touch the file")

	require.NoError(t, c.Save())
	m := readCredentialFile(t, path)
	assert.Nil(t, m["accessToken"])
	assert.Nil(t, m["refreshToken"])
	assert.Contains(t, m, "tokenExpiry")
}

func TestCredential_Expired(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := capi.LoadCredential(filepath.Join(t.TempDir(), "x.cred"))
	c.Expiry = expiry

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"well before", expiry.Add(-time.Hour), false},
		{"just outside skew", expiry.Add(-61 * time.Second), false},
		{"at skew boundary", expiry.Add(-60 * time.Second), true},
		{"after expiry", expiry.Add(time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.Expired(tt.now, 60*time.Second))
		})
	}
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Jameson", "Jameson"},
		{"CMDR*Star", "CMDR_starStar"},
		{`a/b\c`, "a_slashb_slashc"},
		{"host:1", "host_colon1"},
		{"who?", "who_qmark"},
		{"a<b>|\"", "a_b___"},
		{"Jose\u0301", "Jos\u00e9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, capi.SafeFileName(tt.in), tt.in)
	}
}

func TestStoredUserState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Equal(t, capi.NeverLoggedIn, capi.StoredUserState(dir, "cmdr"))

	c := capi.LoadCredential(capi.CredentialPath(dir, "cmdr"))
	require.NoError(t, c.Save())
	assert.Equal(t, capi.HasLoggedIn, capi.StoredUserState(dir, "cmdr"))

	c.RefreshToken = "refresh"
	require.NoError(t, c.Save())
	assert.Equal(t, capi.HasLoggedInWithCredentials, capi.StoredUserState(dir, "cmdr"))
}
