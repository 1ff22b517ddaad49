// Package capi is a client for the Companion API.
//
// A Session logs an identity in through the OAuth2 authorization code flow
// with PKCE, keeps its bearer credential fresh and serializes every
// authenticated request behind one lock:
//
//	s := capi.NewSession(cfg, capi.WithLogger(log))
//	ev, err := s.LogIn(ctx, "Jameson")
//	if ev.State == capi.AwaitingCallback {
//		// open ev.AuthURL in a browser, then hand the redirect to
//		// s.URLCallBack(ctx, redirectURL)
//	}
//	resp := s.Profile(ctx, false)
//
// Credentials are stored per identity as small JSON files. Token endpoint
// failures are split into ErrTransport, which keeps the refresh token for a
// later retry, and ErrRejected, which forces an interactive login.
package capi
