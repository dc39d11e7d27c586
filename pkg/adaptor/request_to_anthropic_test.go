package adaptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
	"github.com/tingly-dev/vertex-relay/internal/typ"
)

func userMsg(text string) protocol.ChatMessage {
	return protocol.ChatMessage{Role: "user", Content: protocol.TextContent(text)}
}

func TestPlainChatDefaults(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Model:    "x",
		Messages: []protocol.ChatMessage{userMsg("hi")},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)

	assert.Equal(t, protocol.AnthropicVersion, out.AnthropicVersion)
	assert.EqualValues(t, DefaultMaxTokens, out.MaxTokens)
	assert.InDelta(t, DefaultTemperature, out.Temperature, 1e-9)
	assert.False(t, out.Stream)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	require.Len(t, out.Messages[0].Content, 1)
	assert.Equal(t, "hi", out.Messages[0].Content[0].Text)
}

func TestSystemPromptRelocation(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: protocol.TextContent("Be terse.")},
			userMsg("hi"),
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "Be terse.\n\nhi", out.Messages[0].Content[0].Text)
}

func TestMultipleSystemPromptsJoin(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: protocol.TextContent("A")},
			{Role: "system", Content: protocol.TextContent("B")},
			userMsg("hi"),
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	assert.Equal(t, "A\n\nB\n\nhi", out.Messages[0].Content[0].Text)
}

func TestSystemOnlyConversationSynthesizesUser(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: protocol.TextContent("rules")},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "rules", out.Messages[0].Content[0].Text)
}

func TestToolRoundTrip(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			userMsg("add 1 and 2"),
			{
				Role: "assistant",
				ToolCalls: []protocol.ToolCall{{
					ID:   "c1",
					Type: "function",
					Function: protocol.FunctionCall{
						Name:      "add",
						Arguments: json.RawMessage(`"{\"a\":1,\"b\":2}"`),
					},
				}},
			},
			{Role: "tool", ToolCallID: "c1", Content: protocol.TextContent("3")},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	require.Equal(t, "assistant", assistant.Role)
	last := assistant.Content[len(assistant.Content)-1]
	assert.Equal(t, protocol.BlockToolUse, last.Type)
	assert.Equal(t, "c1", last.ID)
	assert.Equal(t, "add", last.Name)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(last.Input))

	results := out.Messages[2]
	require.Equal(t, "user", results.Role)
	require.Len(t, results.Content, 1)
	assert.Equal(t, protocol.BlockToolResult, results.Content[0].Type)
	assert.Equal(t, "c1", results.Content[0].ToolUseID)
	assert.Equal(t, "3", results.Content[0].ResultContent.Text)
}

func TestToolResultsMergeIntoNextUserTurn(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			userMsg("go"),
			{Role: "assistant", ToolCalls: []protocol.ToolCall{{ID: "t1", Type: "function", Function: protocol.FunctionCall{Name: "f"}}}},
			{Role: "tool", ToolCallID: "t1", Content: protocol.TextContent("r")},
			userMsg("thanks"),
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)

	merged := out.Messages[2]
	assert.Equal(t, "user", merged.Role)
	require.Len(t, merged.Content, 2)
	assert.Equal(t, protocol.BlockToolResult, merged.Content[0].Type)
	assert.Equal(t, "t1", merged.Content[0].ToolUseID)
	assert.Equal(t, protocol.BlockText, merged.Content[1].Type)
	assert.Equal(t, "thanks", merged.Content[1].Text)
}

func TestRoleAlternation(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "system", Content: protocol.TextContent("s")},
			userMsg("q1"),
			{
				Role:      "assistant",
				ToolCalls: []protocol.ToolCall{{ID: "t1", Type: "function", Function: protocol.FunctionCall{Name: "f"}}},
			},
			{Role: "tool", ToolCallID: "t1", Content: protocol.TextContent("r")},
			userMsg("q2"),
			{Role: "assistant", Content: protocol.TextContent("a2")},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)

	for i, m := range out.Messages {
		assert.Contains(t, []string{"user", "assistant"}, m.Role)
		if i > 0 {
			assert.NotEqual(t, out.Messages[i-1].Role, m.Role)
		}
	}
}

func TestEmptyAssistantGetsEmptyTextBlock(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			userMsg("hi"),
			{Role: "assistant"},
			userMsg("again"),
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	require.Len(t, out.Messages[1].Content, 1)
	assert.Equal(t, protocol.BlockText, out.Messages[1].Content[0].Type)
	assert.Equal(t, "", out.Messages[1].Content[0].Text)

	// The empty text block must survive serialization.
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "text", gjson.GetBytes(raw, "messages.1.content.0.type").String())
	assert.True(t, gjson.GetBytes(raw, "messages.1.content.0.text").Exists())
}

func TestNonJSONArgumentsForwarded(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			userMsg("go"),
			{
				Role: "assistant",
				ToolCalls: []protocol.ToolCall{{
					ID:   "c2",
					Type: "function",
					Function: protocol.FunctionCall{
						Name:      "run",
						Arguments: json.RawMessage(`"not json at all"`),
					},
				}},
			},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	block := out.Messages[1].Content[len(out.Messages[1].Content)-1]
	assert.Equal(t, `"not json at all"`, string(block.Input))
}

func TestMultimodalUserContent(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			{Role: "user", Content: protocol.PartsContent(
				protocol.ContentPart{Type: "text", Text: "what is this"},
				protocol.ContentPart{Type: "image_url", ImageURL: &protocol.ImageURL{URL: "https://example.com/x.png"}},
			)},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages[0].Content, 2)
	assert.Equal(t, protocol.BlockText, out.Messages[0].Content[0].Type)
	img := out.Messages[0].Content[1]
	assert.Equal(t, protocol.BlockImage, img.Type)
	require.NotNil(t, img.Source)
	assert.Equal(t, "url", img.Source.Type)
	assert.Equal(t, "https://example.com/x.png", img.Source.URL)
}

func TestBlockArrayToolResult(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{
			userMsg("go"),
			{Role: "assistant", ToolCalls: []protocol.ToolCall{{ID: "c3", Type: "function", Function: protocol.FunctionCall{Name: "shot"}}}},
			{Role: "tool", ToolCallID: "c3", Content: protocol.PartsContent(
				protocol.ContentPart{Type: "text", Text: "done"},
				protocol.ContentPart{Type: "image_url", ImageURL: &protocol.ImageURL{URL: "https://example.com/s.png"}},
			)},
		},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	result := out.Messages[2].Content[0]
	require.NotNil(t, result.ResultContent)
	assert.False(t, result.ResultContent.IsText)
	require.Len(t, result.ResultContent.Blocks, 2)
	assert.Equal(t, "text", gjson.GetBytes(result.ResultContent.Blocks[0], "type").String())
	assert.Equal(t, "image_url", gjson.GetBytes(result.ResultContent.Blocks[1], "type").String())
}

func TestEmptyToolsOmitted(t *testing.T) {
	for _, tools := range [][]protocol.ChatTool{nil, {}} {
		req := &protocol.ChatCompletionRequest{
			Messages: []protocol.ChatMessage{userMsg("hi")},
			Tools:    tools,
		}
		out, err := RequestToAnthropic(req)
		require.NoError(t, err)

		raw, err := json.Marshal(out)
		require.NoError(t, err)
		assert.False(t, gjson.GetBytes(raw, "tools").Exists())
		assert.False(t, gjson.GetBytes(raw, "tool_choice").Exists())
	}
}

func TestToolsTranslation(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{userMsg("hi")},
		Tools: []protocol.ChatTool{{
			Type: "function",
			Function: protocol.ToolFunction{
				Name:        "add",
				Description: "adds numbers",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`),
			},
		}},
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "add", out.Tools[0].Name)
	assert.Equal(t, "adds numbers", out.Tools[0].Description)
	assert.JSONEq(t, `{"type":"object","properties":{"a":{"type":"number"}}}`, string(out.Tools[0].InputSchema))
}

func TestToolChoiceTranslation(t *testing.T) {
	base := func(tc *protocol.ToolChoiceUnion) *protocol.ChatCompletionRequest {
		return &protocol.ChatCompletionRequest{
			Messages:   []protocol.ChatMessage{userMsg("hi")},
			ToolChoice: tc,
		}
	}

	out, err := RequestToAnthropic(base(&protocol.ToolChoiceUnion{IsString: true, Value: "auto"}))
	require.NoError(t, err)
	require.NotNil(t, out.ToolChoice)
	assert.Equal(t, "auto", out.ToolChoice.Type)

	out, err = RequestToAnthropic(base(&protocol.ToolChoiceUnion{IsString: true, Value: "none"}))
	require.NoError(t, err)
	assert.Nil(t, out.ToolChoice)

	out, err = RequestToAnthropic(base(&protocol.ToolChoiceUnion{
		Object: &protocol.ToolChoiceObject{Type: "function", Function: &protocol.ToolChoiceFunction{Name: "add"}},
	}))
	require.NoError(t, err)
	require.NotNil(t, out.ToolChoice)
	assert.Equal(t, "tool", out.ToolChoice.Type)
	assert.Equal(t, "add", out.ToolChoice.Name)
}

func TestUnknownRoleRejected(t *testing.T) {
	req := &protocol.ChatCompletionRequest{
		Messages: []protocol.ChatMessage{{Role: "narrator", Content: protocol.TextContent("x")}},
	}
	_, err := RequestToAnthropic(req)
	require.Error(t, err)
	assert.Equal(t, typ.KindConversion, typ.KindOf(err))
}

func TestExplicitKnobsRespected(t *testing.T) {
	maxTokens := int64(128)
	temp := 0.2
	stream := true
	req := &protocol.ChatCompletionRequest{
		Messages:    []protocol.ChatMessage{userMsg("hi")},
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		Stream:      &stream,
	}
	out, err := RequestToAnthropic(req)
	require.NoError(t, err)
	assert.EqualValues(t, 128, out.MaxTokens)
	assert.InDelta(t, 0.2, out.Temperature, 1e-9)
	assert.True(t, out.Stream)
}
