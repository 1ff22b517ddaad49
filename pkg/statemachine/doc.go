// Package statemachine implements a small generic finite state machine.
//
//	type phase string
//	type trigger string
//
//	m := statemachine.New[phase, trigger]("idle").
//		Allow("start", "running", "idle").
//		Allow("stop", "idle", "running")
//
//	if _, err := m.Fire("start"); err != nil {
//		// statemachine.IsNoTransitionAvailableError(err)
//	}
//
// Observers registered with Observe run after each successful Fire.
package statemachine
