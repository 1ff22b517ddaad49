// Package callback carries the browser redirect of an interactive login to
// the process waiting for it.
//
// The waiting process runs a Server on a loopback address. The OS protocol
// handler for the redirect scheme invokes the companion binary, which calls
// Deliver with the URL it was given. The Server hands the URL to a Handler
// (normally a *capi.Session) unmodified.
package callback
