package protocol

import (
	"encoding/json"
	"fmt"
)

// AnthropicVersion is the Vertex flavor tag carried inside the request body
// instead of the anthropic-version header used by the first-party API.
const AnthropicVersion = "vertex-2023-10-16"

// Content block type tags.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// MessagesRequest is the outbound Anthropic messages payload in its Vertex
// flavor: anthropic_version lives in the body and there is no model field.
type MessagesRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	Messages         []AnthropicMessage   `json:"messages"`
	MaxTokens        int64                `json:"max_tokens"`
	Temperature      float64              `json:"temperature"`
	Stream           bool                 `json:"stream"`
	Tools            []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice       *AnthropicToolChoice `json:"tool_choice,omitempty"`
}

// AnthropicMessage is one turn of the upstream conversation. Content is
// always the block-array form, never the string shorthand.
type AnthropicMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is the type-tagged Anthropic content union. Only the fields
// of the active variant are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID     string             `json:"tool_use_id,omitempty"`
	ResultContent *ToolResultContent `json:"content,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// NewTextBlock builds a text block. Empty text is legal and survives
// serialization.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock builds a tool_use block. Nil input serializes as {}.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a tool_result block referencing a prior call.
func NewToolResultBlock(toolUseID string, content ToolResultContent) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, ResultContent: &content}
}

// NewImageBlock builds a url-sourced image block.
func NewImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &ImageSource{Type: "url", URL: url}}
}

// MarshalJSON emits only the active variant's fields. A text block always
// carries its text key even when empty, which the omitempty tags above
// would otherwise drop.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return json.Marshal(struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	case BlockToolResult:
		return json.Marshal(struct {
			Type      string             `json:"type"`
			ToolUseID string             `json:"tool_use_id"`
			Content   *ToolResultContent `json:"content"`
		}{b.Type, b.ToolUseID, b.ResultContent})
	case BlockImage:
		return json.Marshal(struct {
			Type   string       `json:"type"`
			Source *ImageSource `json:"source"`
		}{b.Type, b.Source})
	}
	return nil, fmt.Errorf("unknown content block type %q", b.Type)
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias struct {
		Type          string             `json:"type"`
		Text          string             `json:"text"`
		ID            string             `json:"id"`
		Name          string             `json:"name"`
		Input         json.RawMessage    `json:"input"`
		ToolUseID     string             `json:"tool_use_id"`
		ResultContent *ToolResultContent `json:"content"`
		Source        *ImageSource       `json:"source"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = ContentBlock(a)
	return nil
}

// ToolResultContent is the string-or-blocks union carried by tool_result.
type ToolResultContent struct {
	Text   string
	Blocks []json.RawMessage
	IsText bool
}

// StringResult builds the plain-string form.
func StringResult(s string) ToolResultContent {
	return ToolResultContent{Text: s, IsText: true}
}

// BlocksResult builds the block-array form, forwarded verbatim.
func BlocksResult(blocks []json.RawMessage) ToolResultContent {
	return ToolResultContent{Blocks: blocks}
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		c.IsText = true
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Blocks)
}

// ImageSource locates image bytes; only the url form is produced here.
type ImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// AnthropicTool is one tool definition of the upstream catalog.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AnthropicToolChoice steers upstream tool selection.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// MessagesResponse is the upstream non-streaming response, also reused as
// the message envelope of a message_start stream event.
type MessagesResponse struct {
	ID         string          `json:"id,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Content    []ContentBlock  `json:"content,omitempty"`
	Usage      *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicUsage is upstream token accounting.
type AnthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Anthropic SSE event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// StreamEvent is one decoded upstream SSE event; which fields are set
// depends on Type.
type StreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Message      *MessagesResponse `json:"message,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *StreamEventDelta `json:"delta,omitempty"`
	Usage        *AnthropicUsage   `json:"usage,omitempty"`
}

// StreamEventDelta carries text fragments, tool-input JSON fragments, and
// the final stop reason.
type StreamEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}
