package capi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// challenge is an outstanding PKCE login.
type challenge struct {
	nonce    string
	verifier string
}

func newChallenge() (*challenge, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallenge, err)
	}
	return &challenge{
		nonce:    base64.RawURLEncoding.EncodeToString(nonce),
		verifier: oauth2.GenerateVerifier(),
	}, nil
}

func (c *challenge) matches(state string) bool {
	return c != nil && subtle.ConstantTimeCompare([]byte(c.nonce), []byte(state)) == 1
}
