// Package adaptor translates between the OpenAI chat-completions wire
// format and the Anthropic messages format in its Vertex flavor.
package adaptor

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
	"github.com/tingly-dev/vertex-relay/internal/typ"
)

// Defaults applied when the client omits the sampling knobs.
const (
	DefaultMaxTokens   = 8000
	DefaultTemperature = 0.9
)

// RequestToAnthropic converts an OpenAI chat request into the upstream
// Anthropic payload. One pass over the messages: system text accumulates and
// is later prepended to the first user turn, tool messages buffer until they
// can be attached right after the assistant turn that issued the calls.
func RequestToAnthropic(req *protocol.ChatCompletionRequest) (*protocol.MessagesRequest, error) {
	var (
		out     []protocol.AnthropicMessage
		pending []protocol.ContentBlock
		system  []string
	)

	flushPending := func() {
		if len(pending) == 0 {
			return
		}
		if len(out) == 0 || out[len(out)-1].Role != "assistant" {
			return
		}
		out = append(out, protocol.AnthropicMessage{Role: "user", Content: pending})
		pending = nil
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system", "developer":
			if text := contentText(msg.Content); text != "" {
				system = append(system, text)
			}

		case "assistant":
			flushPending()
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, protocol.AnthropicMessage{Role: "assistant", Content: blocks})

		case "tool":
			result, err := toolResultBlock(msg)
			if err != nil {
				return nil, err
			}
			pending = append(pending, result)

		case "user":
			blocks, err := userBlocks(msg.Content)
			if err != nil {
				return nil, err
			}
			// Pending tool results join this user turn so roles keep
			// alternating; the results must lead the content.
			if len(pending) > 0 && len(out) > 0 && out[len(out)-1].Role == "assistant" {
				blocks = append(pending, blocks...)
				pending = nil
			}
			out = append(out, protocol.AnthropicMessage{Role: "user", Content: blocks})

		default:
			return nil, typ.ConversionError("unknown message role %q", msg.Role)
		}
	}
	flushPending()
	if len(pending) > 0 {
		logrus.Warnf("dropping %d tool results with no preceding assistant turn", len(pending))
	}

	if len(system) > 0 {
		prependSystemText(&out, strings.Join(system, "\n\n"))
	}

	result := &protocol.MessagesRequest{
		AnthropicVersion: protocol.AnthropicVersion,
		Messages:         out,
		MaxTokens:        DefaultMaxTokens,
		Temperature:      DefaultTemperature,
		Stream:           req.IsStreaming(),
	}
	if req.MaxTokens != nil {
		result.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		result.Temperature = *req.Temperature
	}

	result.Tools = translateTools(req.Tools)
	result.ToolChoice = translateToolChoice(req.ToolChoice)
	return result, nil
}

// contentText flattens a content union to plain text. Block arrays
// contribute their text parts joined by newlines.
func contentText(c *protocol.MessageContent) string {
	if c == nil {
		return ""
	}
	if c.IsText {
		return c.Text
	}
	var parts []string
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func userBlocks(c *protocol.MessageContent) ([]protocol.ContentBlock, error) {
	if c == nil {
		return []protocol.ContentBlock{protocol.NewTextBlock("")}, nil
	}
	if c.IsText {
		return []protocol.ContentBlock{protocol.NewTextBlock(c.Text)}, nil
	}
	var blocks []protocol.ContentBlock
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, protocol.NewTextBlock(p.Text))
		case "image_url":
			if p.ImageURL == nil {
				return nil, typ.ConversionError("image_url content part missing image_url field")
			}
			blocks = append(blocks, protocol.NewImageBlock(p.ImageURL.URL))
		default:
			return nil, typ.ConversionError("unsupported content part type %q", p.Type)
		}
	}
	if len(blocks) == 0 {
		blocks = []protocol.ContentBlock{protocol.NewTextBlock("")}
	}
	return blocks, nil
}

func assistantBlocks(msg *protocol.ChatMessage) ([]protocol.ContentBlock, error) {
	var blocks []protocol.ContentBlock
	if msg.Content != nil {
		if msg.Content.IsText {
			if msg.Content.Text != "" {
				blocks = append(blocks, protocol.NewTextBlock(msg.Content.Text))
			}
		} else {
			for _, p := range msg.Content.Parts {
				if p.Type == "text" {
					blocks = append(blocks, protocol.NewTextBlock(p.Text))
				}
			}
		}
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, protocol.NewToolUseBlock(tc.ID, tc.Function.Name, toolInput(tc.Function.Arguments)))
	}
	// Role alternation must survive an assistant turn with nothing to say.
	if len(blocks) == 0 {
		blocks = append(blocks, protocol.NewTextBlock(""))
	}
	return blocks, nil
}

// toolInput recovers the JSON value behind OpenAI's string-encoded
// arguments. A string whose payload parses as JSON yields that value; a
// string that does not parse is forwarded unchanged; a bare object is
// already in the right shape.
func toolInput(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	if args[0] == '"' {
		var inner string
		if err := json.Unmarshal(args, &inner); err != nil {
			return args
		}
		if inner == "" {
			return nil
		}
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner)
		}
		return args
	}
	return args
}

func toolResultBlock(msg *protocol.ChatMessage) (protocol.ContentBlock, error) {
	if msg.ToolCallID == "" {
		return protocol.ContentBlock{}, typ.ConversionError("tool message missing tool_call_id")
	}
	if msg.Content == nil || msg.Content.IsText {
		text := ""
		if msg.Content != nil {
			text = msg.Content.Text
		}
		return protocol.NewToolResultBlock(msg.ToolCallID, protocol.StringResult(text)), nil
	}
	// Block-array results keep their original shapes on the wire.
	blocks := make([]json.RawMessage, 0, len(msg.Content.Parts))
	for _, p := range msg.Content.Parts {
		raw, err := json.Marshal(p)
		if err != nil {
			return protocol.ContentBlock{}, typ.ConversionError("serialize tool result block: %v", err)
		}
		blocks = append(blocks, raw)
	}
	return protocol.NewToolResultBlock(msg.ToolCallID, protocol.BlocksResult(blocks)), nil
}

// prependSystemText attaches the accumulated system prompt to the first
// user turn, merging into its leading text block when one exists. A
// conversation with no user turn gets one synthesized at the front.
func prependSystemText(out *[]protocol.AnthropicMessage, text string) {
	for i := range *out {
		m := &(*out)[i]
		if m.Role != "user" {
			continue
		}
		if len(m.Content) > 0 && m.Content[0].Type == protocol.BlockText {
			if m.Content[0].Text == "" {
				m.Content[0].Text = text
			} else {
				m.Content[0].Text = text + "\n\n" + m.Content[0].Text
			}
		} else {
			m.Content = append([]protocol.ContentBlock{protocol.NewTextBlock(text)}, m.Content...)
		}
		return
	}
	*out = append([]protocol.AnthropicMessage{{
		Role:    "user",
		Content: []protocol.ContentBlock{protocol.NewTextBlock(text)},
	}}, *out...)
}

func translateTools(tools []protocol.ChatTool) []protocol.AnthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]protocol.AnthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, protocol.AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out
}

func translateToolChoice(tc *protocol.ToolChoiceUnion) *protocol.AnthropicToolChoice {
	if tc == nil {
		return nil
	}
	if tc.IsString {
		if tc.Value == "auto" {
			return &protocol.AnthropicToolChoice{Type: "auto"}
		}
		// "none" and anything else Anthropic cannot express is omitted.
		return nil
	}
	if tc.Object != nil && tc.Object.Function != nil && tc.Object.Function.Name != "" {
		return &protocol.AnthropicToolChoice{Type: "tool", Name: tc.Object.Function.Name}
	}
	return nil
}
