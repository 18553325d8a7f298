// Package state holds the process-wide liveness and readiness flags shared by the
// route workers, the liveness coordinator and the HTTP health endpoints.
package state

import "sync/atomic"

// ApplicationState is safe for concurrent use. Running starts true and only ever
// goes false; once false every worker stops after its current message.
type ApplicationState struct {
	running atomic.Bool
	ready   atomic.Bool
}

// NewApplicationState returns a state that is running but not yet ready
func NewApplicationState() *ApplicationState {
	s := &ApplicationState{}
	s.running.Store(true)
	return s
}

// Running reports whether the process should keep consuming
func (s *ApplicationState) Running() bool {
	return s.running.Load()
}

// Ready reports whether all routes have been started
func (s *ApplicationState) Ready() bool {
	return s.ready.Load()
}

// SetReady marks the application as ready to serve
func (s *ApplicationState) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Shutdown clears running and ready. It returns true only for the call that
// performed the transition.
func (s *ApplicationState) Shutdown() bool {
	s.ready.Store(false)
	return s.running.CompareAndSwap(true, false)
}
