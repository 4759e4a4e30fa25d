package debounce

import "fmt"

// State represents where the debouncer is in its turn cycle.
type State int

const (
	// StateIdle - No turn in flight; the next qualifying final is accepted.
	StateIdle State = iota
	// StateProcessing - A turn is in flight; finals are dropped.
	StateProcessing
	// StateCooldown - Turn finished, waiting out the quiescence delay.
	StateCooldown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateProcessing:
		return "PROCESSING"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Busy returns true if a new utterance cannot be accepted in this state.
func (s State) Busy() bool {
	return s != StateIdle
}

// Reason explains an Offer decision.
type Reason string

const (
	ReasonAccepted  Reason = "accepted"
	ReasonPartial   Reason = "partial"
	ReasonNoise     Reason = "noise"
	ReasonDuplicate Reason = "duplicate"
	ReasonBusy      Reason = "busy"
)

// Decision is the result of offering one transcript event.
type Decision struct {
	Accepted bool
	// Text is the trimmed utterance; set for every final event.
	Text   string
	Reason Reason
}
