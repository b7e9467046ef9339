package domain

// Chat roles understood by the completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the router
// and LLM integrations. Content is nil for assistant messages that only
// announce tool calls.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Text returns the message content, or "" when the content is null.
func (m ChatMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: &text}
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: &text}
}

// AssistantToolCallMessage announces the executed tool calls with null content.
func AssistantToolCallMessage(calls []ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, ToolCalls: calls}
}

// ToolResultMessage carries the stringified result of the call identified by callID.
func ToolResultMessage(callID, name, output string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: &output, ToolCallID: callID, Name: name}
}

// ToolCall is an assistant-side tool call announcement.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition represents a tool that the model can call.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes the function signature. Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ResponseFormat constrains the completion output.
type ResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

type JSONSchemaFormat struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict,omitempty"`
	Schema any    `json:"schema"`
}

// Completion is the provider's chat completion. Callers only read the first choice.
type Completion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns choices[0].message.content, or "" when absent.
func (c *Completion) Content() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Text()
}
