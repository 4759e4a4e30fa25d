// Package models defines the audit events published for conversational turns.
package models

const (
	EventTypeUtteranceAccepted = "voice.utterance.accepted"
	EventTypeTurnCompleted     = "voice.turn.completed"
)

// Turn outcomes.
const (
	OutcomeEnd   = "end"
	OutcomeError = "error"
)

// UtteranceAccepted is published when the debouncer hands an utterance to
// the turn processor.
type UtteranceAccepted struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TurnCompleted is published when a turn reaches its terminal event.
type TurnCompleted struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	TurnID     string `json:"turnId"`
	Timestamp  int64  `json:"timestamp"`
	Utterance  string `json:"utterance"`
	Response   string `json:"response"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Chunks     int    `json:"chunks"`
	ToolCalls  int    `json:"toolCalls"`
}
