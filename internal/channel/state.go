package channel

import "time"

type (
	// State is the lifecycle state of the shared connection
	State string

	// ConnError is the last connection problem, kept for display
	ConnError struct {
		Message string
		At      time.Time
	}

	// Status is a point-in-time copy of the connection state
	Status struct {
		State             State
		ClientID          string
		ConnectedAt       time.Time
		LastHeartbeatAt   time.Time
		ReconnectAttempts int
		Err               *ConnError
	}

	// Membership is a room the application asked to be part of. JoinedAt
	// is zero until the join request went out on the current session
	Membership struct {
		Name     string
		JoinedAt time.Time
	}
)

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Connected reports whether frames can be sent right now
func (s Status) Connected() bool {
	return s.State == StateConnected
}

// ErrorMessage returns the recorded error text, or the empty string
func (s Status) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Message
}

// active states own a running connection loop
func (s State) active() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnecting:
		return true
	default:
		return false
	}
}
