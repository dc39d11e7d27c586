package adaptor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
)

func TestFinishReasonMapping(t *testing.T) {
	cases := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
		"something_new": "stop",
		"":              "stop",
	}
	for in, want := range cases {
		assert.Equal(t, want, FinishReason(in), in)
	}
}

func TestResponseToOpenAIPlainText(t *testing.T) {
	resp := &protocol.MessagesResponse{
		StopReason: "end_turn",
		Content:    []protocol.ContentBlock{protocol.NewTextBlock("hello")},
	}
	out := ResponseToOpenAI(resp, "claude-sonnet-4")

	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "claude-sonnet-4", out.Model)
	require.Len(t, out.Choices, 1)
	require.NotNil(t, out.Choices[0].Message.Content)
	assert.Equal(t, "hello", *out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Nil(t, out.Usage)
}

func TestResponseToOpenAIConcatenatesTextBlocks(t *testing.T) {
	resp := &protocol.MessagesResponse{
		StopReason: "end_turn",
		Content: []protocol.ContentBlock{
			protocol.NewTextBlock("one "),
			protocol.NewTextBlock("two"),
		},
	}
	out := ResponseToOpenAI(resp, "m")
	assert.Equal(t, "one two", *out.Choices[0].Message.Content)
}

func TestResponseToOpenAIToolUse(t *testing.T) {
	resp := &protocol.MessagesResponse{
		StopReason: "tool_use",
		Content: []protocol.ContentBlock{
			protocol.NewToolUseBlock("c1", "add", json.RawMessage(`{"a":1,"b":2}`)),
		},
		Usage: &protocol.AnthropicUsage{InputTokens: 10, OutputTokens: 5},
	}
	out := ResponseToOpenAI(resp, "m")

	choice := out.Choices[0]
	assert.Nil(t, choice.Message.Content)
	assert.Equal(t, "tool_calls", choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	tc := choice.Message.ToolCalls[0]
	assert.Equal(t, "c1", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "add", tc.Function.Name)

	// Arguments must be a JSON string whose payload parses back to the input.
	var argStr string
	require.NoError(t, json.Unmarshal(tc.Function.Arguments, &argStr))
	assert.JSONEq(t, `{"a":1,"b":2}`, argStr)

	require.NotNil(t, out.Usage)
	assert.EqualValues(t, 10, out.Usage.PromptTokens)
	assert.EqualValues(t, 5, out.Usage.CompletionTokens)
	assert.EqualValues(t, 15, out.Usage.TotalTokens)
}

func TestResponseToOpenAINullContentSerialization(t *testing.T) {
	resp := &protocol.MessagesResponse{
		StopReason: "tool_use",
		Content: []protocol.ContentBlock{
			protocol.NewToolUseBlock("c1", "f", nil),
		},
	}
	raw, err := json.Marshal(ResponseToOpenAI(resp, "m"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":null`)
}

func TestResponseToOpenAIEmptyToolInput(t *testing.T) {
	resp := &protocol.MessagesResponse{
		StopReason: "tool_use",
		Content:    []protocol.ContentBlock{protocol.NewToolUseBlock("c1", "f", nil)},
	}
	out := ResponseToOpenAI(resp, "m")
	var argStr string
	require.NoError(t, json.Unmarshal(out.Choices[0].Message.ToolCalls[0].Function.Arguments, &argStr))
	assert.Equal(t, "{}", argStr)
}
