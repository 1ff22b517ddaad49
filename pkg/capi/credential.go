package capi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// clearedExpiry is written for credentials that hold no tokens.
var clearedExpiry = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Credential is the token set stored for one identity. It is not safe for
// concurrent use; the owning Session serializes access.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time

	path string
}

type credentialFile struct {
	AccessToken  *string   `json:"accessToken"`
	RefreshToken *string   `json:"refreshToken"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
}

// LoadCredential reads the credential stored at path. A missing or malformed
// file yields an empty credential bound to path.
func LoadCredential(path string) *Credential {
	c := &Credential{path: path, Expiry: clearedExpiry}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return c
	}
	if f.AccessToken != nil {
		c.AccessToken = *f.AccessToken
	}
	if f.RefreshToken != nil {
		c.RefreshToken = *f.RefreshToken
	}
	if !f.TokenExpiry.IsZero() {
		c.Expiry = f.TokenExpiry
	}
	return c
}

// Path returns the file the credential is bound to.
func (c *Credential) Path() string { return c.path }

// Save overwrites the bound file with the current fields.
func (c *Credential) Save() error {
	if c.path == "" {
		return fmt.Errorf("capi: credential has no file path")
	}

	f := credentialFile{TokenExpiry: c.Expiry.UTC()}
	if c.AccessToken != "" {
		f.AccessToken = &c.AccessToken
	}
	if c.RefreshToken != "" {
		f.RefreshToken = &c.RefreshToken
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("capi: failed to encode credential: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("capi: failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cred-*")
	if err != nil {
		return fmt.Errorf("capi: failed to write credential: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("capi: failed to write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("capi: failed to write credential: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("capi: failed to write credential: %w", err)
	}
	return nil
}

// Clear resets the tokens in memory. The file is left alone until Save.
func (c *Credential) Clear() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.Expiry = clearedExpiry
}

// Expired reports whether the access token is within skew of its expiry.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(c.Expiry.Add(-skew))
}

// HasTokens reports whether any token is held.
func (c *Credential) HasTokens() bool {
	return c.AccessToken != "" || c.RefreshToken != ""
}

func (c *Credential) apply(t Token) {
	c.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
	c.Expiry = t.Expiry
}

// SafeFileName maps an identity to a name usable on every common filesystem.
// Identities are NFC-normalized first, so composed and decomposed spellings
// of one name share a file.
func SafeFileName(identity string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(identity) {
		switch {
		case r == '*':
			b.WriteString("_star")
		case r == '/' || r == '\\':
			b.WriteString("_slash")
		case r == ':':
			b.WriteString("_colon")
		case r == '?':
			b.WriteString("_qmark")
		case r < 0x20 || r == 0x7f || strings.ContainsRune(`"<>|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CredentialPath returns where the credential of identity is stored under dir.
func CredentialPath(dir, identity string) string {
	return filepath.Join(dir, SafeFileName(identity)+".cred")
}

// UserState describes what is stored for an identity.
type UserState int

const (
	NeverLoggedIn UserState = iota
	HasLoggedIn
	HasLoggedInWithCredentials
)

func (s UserState) String() string {
	switch s {
	case HasLoggedIn:
		return "has_logged_in"
	case HasLoggedInWithCredentials:
		return "has_logged_in_with_credentials"
	default:
		return "never_logged_in"
	}
}

// StoredUserState inspects the credential file of identity under dir.
func StoredUserState(dir, identity string) UserState {
	path := CredentialPath(dir, identity)
	if _, err := os.Stat(path); err != nil {
		return NeverLoggedIn
	}
	if LoadCredential(path).HasTokens() {
		return HasLoggedInWithCredentials
	}
	return HasLoggedIn
}
