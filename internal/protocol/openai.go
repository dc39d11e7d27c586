package protocol

import (
	"bytes"
	"encoding/json"
)

// ChatCompletionRequest is the inbound OpenAI chat-completions request.
type ChatCompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []ChatMessage    `json:"messages"`
	MaxTokens   *int64           `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      *bool            `json:"stream,omitempty"`
	Tools       []ChatTool       `json:"tools,omitempty"`
	ToolChoice  *ToolChoiceUnion `json:"tool_choice,omitempty"`
}

// IsStreaming reports whether the client asked for SSE output.
func (r *ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// ChatMessage is one message of the inbound conversation.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    *MessageContent `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MessageContent is the OpenAI string-or-blocks content union.
type MessageContent struct {
	// Text holds the content when the wire value was a plain string.
	Text string
	// Parts holds the content when the wire value was a block array.
	Parts []ContentPart
	// IsText distinguishes an empty string from an empty array.
	IsText bool
}

// TextContent builds a plain-string content value.
func TextContent(s string) *MessageContent {
	return &MessageContent{Text: s, IsText: true}
}

// PartsContent builds a block-array content value.
func PartsContent(parts ...ContentPart) *MessageContent {
	return &MessageContent{Parts: parts}
}

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		m.IsText = true
		return json.Unmarshal(trimmed, &m.Text)
	}
	return json.Unmarshal(trimmed, &m.Parts)
}

func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.IsText {
		return json.Marshal(m.Text)
	}
	return json.Marshal(m.Parts)
}

// ContentPart is one typed block of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries the image reference of an image_url content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a function invocation issued by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-string arguments.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments is a JSON string on the OpenAI wire, but some clients
	// send a bare object; keep the raw bytes and let the translator decide.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ChatTool is one entry of the request tool catalog.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function and its parameter schema.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoiceUnion is the OpenAI tool_choice string-or-object union.
type ToolChoiceUnion struct {
	Value    string
	Object   *ToolChoiceObject
	IsString bool
}

// ToolChoiceObject forces a specific function.
type ToolChoiceObject struct {
	Type     string              `json:"type"`
	Function *ToolChoiceFunction `json:"function,omitempty"`
}

// ToolChoiceFunction names the forced function.
type ToolChoiceFunction struct {
	Name string `json:"name"`
}

func (t *ToolChoiceUnion) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		t.IsString = true
		return json.Unmarshal(trimmed, &t.Value)
	}
	return json.Unmarshal(trimmed, &t.Object)
}

func (t ToolChoiceUnion) MarshalJSON() ([]byte, error) {
	if t.IsString {
		return json.Marshal(t.Value)
	}
	return json.Marshal(t.Object)
}

// ChatCompletion is the outbound non-streaming OpenAI response.
type ChatCompletion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *CompletionUsage       `json:"usage,omitempty"`
}

// ChatCompletionChoice is the single choice of a completion.
type ChatCompletionChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the completed assistant turn. Content is null when
// the model answered with tool calls only.
type AssistantMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// CompletionUsage mirrors OpenAI usage accounting.
type CompletionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ChatCompletionChunk is one outbound SSE frame of a streamed completion.
type ChatCompletionChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []ChunkChoice    `json:"choices"`
	Usage   *CompletionUsage `json:"usage,omitempty"`
}

// ChunkChoice is the single delta choice of a stream chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta carries the incremental assistant output.
type ChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls []ChunkToolCall `json:"tool_calls,omitempty"`
}

// ChunkToolCall is an incremental tool-call fragment. Index is the OpenAI
// tool-call index, assigned in block-start order, not the Anthropic
// content-block index.
type ChunkToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ChunkFunctionDelta `json:"function"`
}

// ChunkFunctionDelta carries the name (first fragment only) and an
// arguments fragment.
type ChunkFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// Model is one entry of the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
