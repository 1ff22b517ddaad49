package capi

import (
	"errors"
	"fmt"
)

// Token endpoint failure kinds. Every error returned by TokenClient matches
// exactly one of them with errors.Is.
var (
	// ErrTransport covers network, TLS and timeout failures. The refresh token
	// stays valid and the exchange may be retried later.
	ErrTransport = errors.New("capi: token endpoint unreachable")
	// ErrRejected means the authorization server answered but refused the
	// grant. A refresh token that produced it must be treated as burned.
	ErrRejected = errors.New("capi: token endpoint rejected the grant")
)

// Session errors
var (
	ErrNoClientID        = errors.New("capi: no client id configured")
	ErrNoIdentity        = errors.New("capi: identity is required")
	ErrNoRefreshToken    = errors.New("capi: no refresh token stored")
	ErrMalformedCallback = errors.New("capi: callback url is not a valid redirect")
	ErrStateMismatch     = errors.New("capi: callback state does not match a pending login")
	ErrCallbackPanic     = errors.New("capi: callback handling failed unexpectedly")
	ErrChallenge         = errors.New("capi: failed to generate login challenge")
	ErrInvalidProfile    = errors.New("capi: profile has no commander")
)

// AuthorizationError is returned when the authorization server redirects
// back without a code.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("capi: authorization denied: %s", e.Description)
	case e.Code != "":
		return fmt.Sprintf("capi: authorization denied: %s", e.Code)
	default:
		return "capi: authorization denied: no code in callback"
	}
}

// Unwrap lets callers treat a denied authorization as a rejection.
func (e *AuthorizationError) Unwrap() error { return ErrRejected }
