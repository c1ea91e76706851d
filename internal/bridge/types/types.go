package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message roles accepted on the request path.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatCompletionRequest is the request body for POST /v1/chat/completions.
//
// SessionID and EnableTools are extensions: SessionID opts a client into
// server-side conversation continuity, EnableTools opts it into tool-call
// recovery from the assistant text. Sampling parameters are accepted for
// client compatibility; the engine decides whether to honor them.
type ChatCompletionRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []ChatMessage `json:"messages" validate:"required"`
	Stream      bool          `json:"stream,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	EnableTools bool          `json:"enable_tools,omitempty"`
	Tools       []Tool        `json:"tools,omitempty" validate:"omitempty,dive"`

	// ToolChoice mirrors the OpenAI field: either the strings "auto"/"none"
	// or an object naming a specific function. Kept raw; only "none" changes
	// behavior here.
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	User        string   `json:"user,omitempty"`
}

// ToolChoiceNone reports whether the client explicitly opted out of tool
// handling with tool_choice: "none".
func (r *ChatCompletionRequest) ToolChoiceNone() bool {
	if len(r.ToolChoice) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(r.ToolChoice, &s); err != nil {
		return false
	}
	return s == "none"
}

// ChatMessage is one entry of the request message array.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// contentPart is one element of an array-form content field.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts both content forms clients send: a plain JSON string,
// or an array of typed parts from which the text parts are joined with
// newlines. Non-text parts are dropped.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type plain ChatMessage
	var aux struct {
		plain
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = ChatMessage(aux.plain)

	raw := bytes.TrimSpace(aux.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		m.Content = ""
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &m.Content); err != nil {
			return fmt.Errorf("decoding message content: %w", err)
		}
	case raw[0] == '[':
		var parts []contentPart
		if err := json.Unmarshal(raw, &parts); err != nil {
			return fmt.Errorf("decoding message content parts: %w", err)
		}
		var buf bytes.Buffer
		for _, p := range parts {
			if p.Type != "text" || p.Text == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(p.Text)
		}
		m.Content = buf.String()
	default:
		return fmt.Errorf("message content must be a string or an array of parts")
	}

	return nil
}

// Tool is a request-scoped tool descriptor in the OpenAI function shape.
type Tool struct {
	Type     string             `json:"type" validate:"required,eq=function"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function a tool exposes.
type FunctionDefinition struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a structured call recovered from assistant output.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the called function name and its JSON-encoded
// arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// AssistantMessage is the message object of a buffered completion choice.
// Content is null (not empty) when the response consists of tool calls.
type AssistantMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the OpenAI token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the buffered response body.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one buffered completion alternative. The engine produces exactly
// one, so Index is always 0.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed SSE payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`

	// Usage is set only on the terminal chunk.
	Usage *Usage `json:"usage,omitempty"`
}

// ChunkChoice is one streamed delta. FinishReason stays null until the
// terminal chunk, matching what streaming clients expect.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message fragment of a streamed chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Model is one entry of the model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response body for GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Objects identifying response kinds on the wire.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
)

// Finish reasons reported to clients.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
)
