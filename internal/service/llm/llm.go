// Package llm defines the streaming completion engine consumed by the turn processor.
package llm

import (
	"context"
	"errors"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single message in a conversation.
//
// Assistant messages that request tools carry ToolCalls; tool result
// messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Tool defines a function the model may call. Parameters is a JSON Schema object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one streaming completion call.
type Request struct {
	Messages []Message
	Tools    []Tool
}

// Delta is one increment of a streamed completion. A delta carries either
// text or the complete set of tool calls for the response.
type Delta struct {
	Text      string
	ToolCalls []ToolCall
}

// Stream yields deltas until Recv returns io.EOF.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Engine starts streaming completions.
type Engine interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ErrNoEngine is returned when no completion engine is configured.
var ErrNoEngine = errors.New("completion engine not configured")
