package llm

import "strings"

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a provider-neutral chat message.
//
// Responses always come back with Role=assistant. ToolCalls is only populated on responses.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model. Arguments is the raw JSON text as produced
// by the model; it is not validated here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function-call contract offered to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object.
	Parameters map[string]any
}

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	Messages []Message
	Model    string
	Tools    []Tool

	// ReasoningEffort is normalized with NormalizeReasoningEffort (default "medium").
	ReasoningEffort string
	// MaxTokens <= 0 uses DefaultMaxTokens.
	MaxTokens int
	// ToolChoice is only sent when Tools is non-empty. Empty means "auto".
	ToolChoice string
}

const (
	DefaultMaxTokens  = 16384
	DefaultToolChoice = "auto"
)

func (r ChatRequest) effectiveMaxTokens() int64 {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return int64(r.MaxTokens)
}

func (r ChatRequest) effectiveToolChoice() string {
	v := strings.TrimSpace(r.ToolChoice)
	if v == "" {
		return DefaultToolChoice
	}
	return v
}
