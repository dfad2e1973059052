package llm

import "time"

// Roles of a chat message. These are the normalized values every provider
// client maps to and from.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a chat exchange. Serialized messages are what the
// history store holds; the store treats them as opaque strings.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// ToolCalls holds calls the model requested (role "assistant" only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result to its originating call (role "tool").
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested invocation of a named function.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema is the language-neutral tool declaration handed to providers.
// Parameters follows JSON schema: {type: "object", properties, required}.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now().Unix()}
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now().Unix()}
}

// NewAssistantMessage builds an assistant message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now().Unix()}
}

// NewToolResult builds a tool-result message paired to callID.
func NewToolResult(callID, text string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: text, Timestamp: time.Now().Unix()}
}

// Marshal serializes the message for the history store.
func (m Message) Marshal() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalMessage restores a message serialized by Marshal. Entries that
// fail to parse are reported so callers can truncate corrupted history.
func UnmarshalMessage(entry string) (Message, error) {
	var m Message
	err := json.Unmarshal([]byte(entry), &m)
	return m, err
}

// StreamChunk is one increment of a streaming chat response. Text arrives
// in Delta; tool calls arrive complete once the provider has assembled
// them. Final marks the terminal chunk.
type StreamChunk struct {
	Delta        string     `json:"delta,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Final        bool       `json:"final,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`

	// Err carries a mid-stream failure. The channel is closed after an
	// error chunk.
	Err error `json:"-"`
}

// NewTextChunk wraps a text delta.
func NewTextChunk(delta string) StreamChunk {
	return StreamChunk{Delta: delta}
}

// NewFinalChunk builds the terminal chunk.
func NewFinalChunk(reason string) StreamChunk {
	return StreamChunk{Final: true, FinishReason: reason}
}

// NewErrorChunk wraps a mid-stream error.
func NewErrorChunk(err error) StreamChunk {
	return StreamChunk{Err: err, Final: true}
}
