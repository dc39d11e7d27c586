package adaptor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
)

// FinishReason maps an Anthropic stop reason to the OpenAI finish_reason
// vocabulary. Unknown and empty reasons collapse to "stop".
func FinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return "stop"
}

// NewCompletionID mints an OpenAI-style response id.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// ResponseToOpenAI converts an upstream non-streaming response into an
// OpenAI chat completion under the given display model name.
func ResponseToOpenAI(resp *protocol.MessagesResponse, model string) *protocol.ChatCompletion {
	var (
		texts     []string
		toolCalls []protocol.ToolCall
	)
	for _, block := range resp.Content {
		switch block.Type {
		case protocol.BlockText:
			texts = append(texts, block.Text)
		case protocol.BlockToolUse:
			toolCalls = append(toolCalls, protocol.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: protocol.FunctionCall{
					Name:      block.Name,
					Arguments: encodeArguments(block.Input),
				},
			})
		}
	}

	msg := protocol.AssistantMessage{Role: "assistant", ToolCalls: toolCalls}
	if len(texts) > 0 {
		content := strings.Join(texts, "")
		msg.Content = &content
	}

	out := &protocol.ChatCompletion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []protocol.ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: FinishReason(resp.StopReason),
		}},
	}
	if resp.Usage != nil {
		out.Usage = &protocol.CompletionUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// encodeArguments wraps a tool_use input value into the JSON string OpenAI
// clients expect in function.arguments.
func encodeArguments(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	quoted, err := json.Marshal(string(input))
	if err != nil {
		return json.RawMessage(`"{}"`)
	}
	return quoted
}
