// Package domain contains core concepts of the chat relay.
// This file defines the connection lifecycle shared by the gateway and the registry.
// No runtime, network, or UI logic should be added here.
package domain

type ConnectionID string

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition enforces Connecting -> Authenticating -> Open -> Closed.
// Closed is reachable from every state; nothing leaves Closed.
func (s ConnState) CanTransition(to ConnState) bool {
	if s == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	return to == s+1
}
