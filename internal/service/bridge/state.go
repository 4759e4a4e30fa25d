package bridge

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a client connection.
type State int

const (
	// StateConnecting - Connection accepted, nothing read yet.
	StateConnecting State = iota
	// StateHandshaking - Waiting for the initialization message.
	StateHandshaking
	// StateStreaming - Audio flowing in, turn events flowing out.
	StateStreaming
	// StateClosing - Tearing down the engine, session and socket.
	StateClosing
	// StateClosed - Terminal; no further activity.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is CLOSED.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// canTransition encodes the allowed edges:
//
//	CONNECTING → HANDSHAKING → STREAMING → CLOSING → CLOSED
//	                 │                        ↑
//	                 └────────────────────────┘
//
// Any non-terminal state may jump to CLOSING.
func canTransition(from, to State) bool {
	switch to {
	case StateHandshaking:
		return from == StateConnecting
	case StateStreaming:
		return from == StateHandshaking
	case StateClosing:
		return from != StateClosing && !from.IsTerminal()
	case StateClosed:
		return from == StateClosing
	default:
		return false
	}
}
