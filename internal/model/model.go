package model

import "context"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in a conversation passed to the provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// FunctionCall is the function portion of a proposed tool call.
// Arguments is the raw JSON string as emitted by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a structured action proposed by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// ToolDefinition describes a callable tool advertised to the model.
// Parameters holds a JSON Schema object for the arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Response is the provider's answer to a Generate call. Content and
// ToolCalls may both be empty, but never both populated-and-conflicting:
// a tool-call response carries the calls in emission order.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// StreamChunk is one fragment of a streamed generation.
type StreamChunk struct {
	Content string
	Err     error
}

// Provider is the contract the decision pipeline consumes. Implementations
// wrap a concrete LLM API. No exactly-once guarantee is assumed; retries
// are the caller's choice.
type Provider interface {
	// Generate produces a response, optionally proposing tool calls
	// drawn from the given definitions.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)

	// GenerateStream yields text fragments on the returned channel.
	// The channel is closed when generation finishes; a terminal error
	// is delivered as the final chunk's Err.
	GenerateStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// GetEmbedding returns a fixed-dimension embedding for the text.
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}
