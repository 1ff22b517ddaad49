package capi

import "time"

// State is a session state or a notification published alongside one.
type State string

const (
	LoggedOut        State = "logged_out"
	AwaitingCallback State = "awaiting_callback"
	Authorized       State = "authorized"

	// Notification-only values; the session never rests in them.
	AuthorizationFailed State = "authorization_failed"
	RefreshSucceeded    State = "refresh_succeeded"
)

// Event is returned from session transitions and published to subscribers.
type Event struct {
	State    State
	Identity string
	// AuthURL is set when State is AwaitingCallback: the browser must be sent there.
	AuthURL string
	Err     error
	At      time.Time
}

type trigger string

const (
	triggerRefreshed    trigger = "refreshed"
	triggerAskForLogin  trigger = "ask_for_login"
	triggerCodeRedeemed trigger = "code_redeemed"
	triggerFailed       trigger = "failed"
	triggerLogOut       trigger = "log_out"
)
