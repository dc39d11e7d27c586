package adaptor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/vertex-relay/internal/protocol"
)

// FrameChannelSize bounds the outbound SSE channel; a full channel blocks
// the translator and propagates backpressure to the upstream read.
const FrameChannelSize = 100

// DoneFrame terminates every OpenAI SSE stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// EncodeFrame renders one SSE data frame.
func EncodeFrame(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		logrus.Errorf("encode SSE frame: %v", err)
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", raw))
}

// activeToolBlock tracks the currently open tool_use content block.
type activeToolBlock struct {
	anthropicIndex int
	openaiIndex    int
	id             string
	name           string
	args           strings.Builder
}

// StreamTranslator converts a stream of Anthropic events into OpenAI chat
// completion chunks. One instance serves exactly one request.
type StreamTranslator struct {
	id      string
	created int64
	model   string

	toolCallsEmitted int
	active           *activeToolBlock
	stopReason       string
	started          bool
	finished         bool
	usage            *protocol.CompletionUsage
}

// NewStreamTranslator prepares a translator emitting chunks under the given
// display model name.
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		id:      NewCompletionID(),
		created: time.Now().Unix(),
		model:   model,
	}
}

func (t *StreamTranslator) chunk(delta protocol.ChunkDelta, finishReason *string) *protocol.ChatCompletionChunk {
	return &protocol.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []protocol.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// ContentChunk builds a plain text-delta chunk; the buffered emitter uses it
// to re-emit coalesced text.
func (t *StreamTranslator) ContentChunk(text string) *protocol.ChatCompletionChunk {
	return t.chunk(protocol.ChunkDelta{Content: &text}, nil)
}

// HandleEvent advances the state machine by one upstream event and returns
// the chunks to emit, possibly none.
func (t *StreamTranslator) HandleEvent(ev *protocol.StreamEvent) []*protocol.ChatCompletionChunk {
	switch ev.Type {
	case protocol.EventMessageStart:
		if ev.Message != nil && ev.Message.Usage != nil {
			t.usage = &protocol.CompletionUsage{PromptTokens: ev.Message.Usage.InputTokens}
		}
		t.started = true
		empty := ""
		return []*protocol.ChatCompletionChunk{
			t.chunk(protocol.ChunkDelta{Role: "assistant", Content: &empty}, nil),
		}

	case protocol.EventContentBlockStart:
		if ev.ContentBlock == nil || ev.ContentBlock.Type != protocol.BlockToolUse {
			return nil
		}
		t.active = &activeToolBlock{
			anthropicIndex: ev.Index,
			openaiIndex:    t.toolCallsEmitted,
			id:             ev.ContentBlock.ID,
			name:           ev.ContentBlock.Name,
		}
		t.toolCallsEmitted++
		return []*protocol.ChatCompletionChunk{
			t.chunk(protocol.ChunkDelta{ToolCalls: []protocol.ChunkToolCall{{
				Index:    t.active.openaiIndex,
				ID:       t.active.id,
				Type:     "function",
				Function: protocol.ChunkFunctionDelta{Name: t.active.name, Arguments: ""},
			}}}, nil),
		}

	case protocol.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []*protocol.ChatCompletionChunk{t.ContentChunk(ev.Delta.Text)}
		case "input_json_delta":
			if t.active == nil {
				logrus.Warnf("dropping tool input fragment for unopened block %d", ev.Index)
				return nil
			}
			t.active.args.WriteString(ev.Delta.PartialJSON)
			return []*protocol.ChatCompletionChunk{
				t.chunk(protocol.ChunkDelta{ToolCalls: []protocol.ChunkToolCall{{
					Index:    t.active.openaiIndex,
					Function: protocol.ChunkFunctionDelta{Arguments: ev.Delta.PartialJSON},
				}}}, nil),
			}
		}
		return nil

	case protocol.EventContentBlockStop:
		if t.active != nil && t.active.anthropicIndex == ev.Index {
			t.active = nil
		}
		return nil

	case protocol.EventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			t.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			if t.usage == nil {
				t.usage = &protocol.CompletionUsage{}
			}
			t.usage.CompletionTokens = ev.Usage.OutputTokens
			t.usage.TotalTokens = t.usage.PromptTokens + ev.Usage.OutputTokens
		}
		return nil

	case protocol.EventMessageStop:
		return []*protocol.ChatCompletionChunk{t.FinishChunk()}

	case protocol.EventPing:
		return nil
	}

	logrus.Debugf("skipping unrecognized stream event type %q", ev.Type)
	return nil
}

// FinishChunk emits the terminal finish_reason chunk exactly once; callers
// invoke it directly when the upstream closed mid-stream.
func (t *StreamTranslator) FinishChunk() *protocol.ChatCompletionChunk {
	if t.finished {
		return nil
	}
	t.finished = true
	reason := FinishReason(t.stopReason)
	final := t.chunk(protocol.ChunkDelta{}, &reason)
	final.Usage = t.usage
	return final
}

// Finished reports whether the terminal chunk has been produced.
func (t *StreamTranslator) Finished() bool { return t.finished }

// ParseEvent decodes one SSE data payload into a stream event. Malformed
// payloads are reported so the caller can skip them.
func ParseEvent(payload []byte) (*protocol.StreamEvent, error) {
	var ev protocol.StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// SSEScanner splits an upstream byte stream into SSE data payloads. Partial
// trailing lines stay buffered until the next read completes them.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner wraps an upstream response body.
func NewSSEScanner(r io.Reader) *SSEScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: sc}
}

// Next returns the next data payload, io.EOF at end of stream.
func (s *SSEScanner) Next() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if !strings.HasPrefix(string(line), "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(string(line), "data:"))
		if payload == "" {
			continue
		}
		return []byte(payload), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Emitter delivers encoded SSE frames downstream.
type Emitter interface {
	Emit(chunk *protocol.ChatCompletionChunk) error
	// Close flushes anything held back; it does not write DoneFrame.
	Close() error
}

// DirectEmitter forwards every chunk as its own frame.
type DirectEmitter struct {
	Send func(frame []byte) error
}

func (d *DirectEmitter) Emit(chunk *protocol.ChatCompletionChunk) error {
	if chunk == nil {
		return nil
	}
	return d.Send(EncodeFrame(chunk))
}

func (d *DirectEmitter) Close() error { return nil }

// sentenceBoundary reports whether the delta ends a flushable batch.
func sentenceBoundary(s string) bool {
	return strings.ContainsAny(s, ".!?\n")
}

// BufferedEmitter coalesces small text deltas into larger frames. A batch
// flushes once it reaches the minimum size or the latest delta carried a
// sentence-ending character. Any non-text chunk flushes the batch first and
// then passes through untouched.
type BufferedEmitter struct {
	translator *StreamTranslator
	minSize    int
	send       func(frame []byte) error
	buf        strings.Builder
}

// NewBufferedEmitter wraps a frame writer with text coalescing.
func NewBufferedEmitter(t *StreamTranslator, minSize int, send func(frame []byte) error) *BufferedEmitter {
	return &BufferedEmitter{translator: t, minSize: minSize, send: send}
}

func (b *BufferedEmitter) Emit(chunk *protocol.ChatCompletionChunk) error {
	if chunk == nil {
		return nil
	}
	if text, ok := textDelta(chunk); ok {
		b.buf.WriteString(text)
		if b.buf.Len() >= b.minSize || sentenceBoundary(text) {
			return b.flush()
		}
		return nil
	}
	if err := b.flush(); err != nil {
		return err
	}
	return b.send(EncodeFrame(chunk))
}

func (b *BufferedEmitter) Close() error { return b.flush() }

func (b *BufferedEmitter) flush() error {
	if b.buf.Len() == 0 {
		return nil
	}
	text := b.buf.String()
	b.buf.Reset()
	return b.send(EncodeFrame(b.translator.ContentChunk(text)))
}

// textDelta extracts the text of a pure content-delta chunk.
func textDelta(chunk *protocol.ChatCompletionChunk) (string, bool) {
	if len(chunk.Choices) != 1 {
		return "", false
	}
	c := chunk.Choices[0]
	if c.FinishReason != nil || c.Delta.Role != "" || len(c.Delta.ToolCalls) > 0 || c.Delta.Content == nil {
		return "", false
	}
	return *c.Delta.Content, true
}

// Run pumps the upstream SSE body through the state machine until EOF or
// cancellation, delivering frames through the emitter. The terminal
// finish_reason chunk is guaranteed even when the upstream closes early;
// the caller writes DoneFrame afterwards.
func (t *StreamTranslator) Run(ctx context.Context, body io.Reader, em Emitter) error {
	scanner := NewSSEScanner(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.Warnf("upstream stream read failed: %v", err)
			break
		}
		if string(payload) == "[DONE]" {
			break
		}
		ev, err := ParseEvent(payload)
		if err != nil {
			logrus.Warnf("skipping malformed stream event: %v", err)
			continue
		}
		for _, chunk := range t.HandleEvent(ev) {
			if err := em.Emit(chunk); err != nil {
				return err
			}
		}
	}
	if final := t.FinishChunk(); final != nil {
		if err := em.Emit(final); err != nil {
			return err
		}
	}
	return em.Close()
}

// ResponseToChunks replays a completed OpenAI response as the short frame
// sequence served to SSE clients that cannot handle incremental deltas:
// role delta, one content frame, one frame per tool call, finish.
func ResponseToChunks(resp *protocol.ChatCompletion) []*protocol.ChatCompletionChunk {
	if len(resp.Choices) == 0 {
		return nil
	}
	choice := resp.Choices[0]
	base := func() *protocol.ChatCompletionChunk {
		return &protocol.ChatCompletionChunk{
			ID:      resp.ID,
			Object:  "chat.completion.chunk",
			Created: resp.Created,
			Model:   resp.Model,
		}
	}

	var chunks []*protocol.ChatCompletionChunk

	empty := ""
	role := base()
	role.Choices = []protocol.ChunkChoice{{Delta: protocol.ChunkDelta{Role: "assistant", Content: &empty}}}
	chunks = append(chunks, role)

	if choice.Message.Content != nil {
		content := base()
		content.Choices = []protocol.ChunkChoice{{Delta: protocol.ChunkDelta{Content: choice.Message.Content}}}
		chunks = append(chunks, content)
	}

	for i, tc := range choice.Message.ToolCalls {
		args := ""
		if len(tc.Function.Arguments) > 0 {
			// Arguments are stored as a JSON string literal; unwrap it.
			if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
				args = string(tc.Function.Arguments)
			}
		}
		call := base()
		call.Choices = []protocol.ChunkChoice{{Delta: protocol.ChunkDelta{ToolCalls: []protocol.ChunkToolCall{{
			Index:    i,
			ID:       tc.ID,
			Type:     tc.Type,
			Function: protocol.ChunkFunctionDelta{Name: tc.Function.Name, Arguments: args},
		}}}}}
		chunks = append(chunks, call)
	}

	reason := choice.FinishReason
	final := base()
	final.Choices = []protocol.ChunkChoice{{Delta: protocol.ChunkDelta{}, FinishReason: &reason}}
	final.Usage = resp.Usage
	chunks = append(chunks, final)
	return chunks
}
