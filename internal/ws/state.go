package ws

import "sync/atomic"

// ConnState is the lifecycle state of a Client.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateReconnecting is set while the client waits to redial after an
	// unexpected close.
	StateReconnecting
	// StateClosed is final. Close was called and no redial happens.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// State holds a ConnState for concurrent access.
type State struct {
	v atomic.Int32
}

func (s *State) Load() ConnState {
	return ConnState(s.v.Load())
}

func (s *State) Store(state ConnState) {
	s.v.Store(int32(state))
}

func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// Transition moves to `to` from any of the listed states and reports whether
// it did.
func (s *State) Transition(to ConnState, from ...ConnState) bool {
	for _, f := range from {
		if s.CompareAndSwap(f, to) {
			return true
		}
	}
	return false
}
