package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/seolaris/poolgate/internal/upstream"
)

// doneMarker is the literal end-of-stream sentinel on the OpenAI surface.
const doneMarker = "data: [DONE]"

// Transcoder re-derives the OpenAI chunk stream from the backend event feed.
// One instance per stream; feed it events in order and write each returned
// line to the client. State is discarded with the instance.
type Transcoder struct {
	id      string
	model   string
	created int64

	roleSent bool
	done     bool

	// Backend content-block index -> output tool_calls index. Text blocks
	// never enter this map; tool indices on the wire are dense and start
	// at zero regardless of where the backend put the block.
	toolIndex map[int]int
	nextTool  int
}

// NewTranscoder creates the per-stream state. The completion id is stamped
// once here and carried on every frame.
func NewTranscoder(model string) *Transcoder {
	return &Transcoder{
		id:        "chatcmpl-" + uuid.New().String(),
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: make(map[int]int),
	}
}

// CompletionID returns the stream's completion id (for request logging).
func (t *Transcoder) CompletionID() string {
	return t.id
}

// Feed folds one backend event into zero or more wire-ready lines
// ("data: <json>" records, or the literal done marker). After an error event
// or message_stop the transcoder is finished and ignores further events.
func (t *Transcoder) Feed(ev upstream.Event) []string {
	if t.done {
		return nil
	}

	switch ev.Type {
	case upstream.EventMessageStart:
		if t.roleSent {
			return nil
		}
		t.roleSent = true
		return []string{t.frame(ChatDelta{Role: "assistant"}, nil)}

	case upstream.EventContentBlockStart:
		if ev.ContentBlock == nil || ev.ContentBlock.Type != upstream.BlockToolUse {
			return nil
		}
		out := t.nextTool
		t.nextTool++
		t.toolIndex[ev.Index] = out
		return []string{t.frame(ChatDelta{ToolCalls: []ChatDeltaToolCall{{
			Index: out,
			ID:    ev.ContentBlock.ID,
			Type:  "function",
			Function: &ChatFunctionCallDelta{
				Name:      ev.ContentBlock.Name,
				Arguments: "",
			},
		}}}, nil)}

	case upstream.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []string{t.frame(ChatDelta{Content: ev.Delta.Text}, nil)}
		case "input_json_delta":
			out, mapped := t.toolIndex[ev.Index]
			if !mapped {
				// Deltas for blocks we never opened are dropped, not
				// buffered.
				return nil
			}
			return []string{t.frame(ChatDelta{ToolCalls: []ChatDeltaToolCall{{
				Index:    out,
				Function: &ChatFunctionCallDelta{Arguments: ev.Delta.PartialJSON},
			}}}, nil)}
		}
		// thinking_delta and unknown delta types emit nothing.
		return nil

	case upstream.EventMessageDelta:
		if ev.Delta == nil || ev.Delta.StopReason == "" {
			return nil
		}
		finish := OpenAIFinishReason(ev.Delta.StopReason)
		return []string{t.frame(ChatDelta{}, &finish)}

	case upstream.EventMessageStop:
		t.done = true
		return []string{doneMarker}

	case upstream.EventError:
		t.done = true
		msg := "stream interrupted"
		errType := ErrAPI
		if ev.Error != nil {
			msg = ev.Error.Message
			if ev.Error.Type != "" {
				errType = ev.Error.Type
			}
		}
		gerr := NewError(500, errType, msg)
		return []string{"data: " + string(gerr.OpenAIBody())}
	}

	// content_block_stop, ping and unrecognized events are no-ops.
	return nil
}

// Finished reports whether the stream has emitted its terminal frame.
func (t *Transcoder) Finished() bool {
	return t.done
}

func (t *Transcoder) frame(delta ChatDelta, finish *string) string {
	chunk := ChatStreamChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []ChatChoice{{
			Index:        0,
			Delta:        &delta,
			FinishReason: finish,
		}},
	}
	body, _ := json.Marshal(chunk)
	return "data: " + string(body)
}

// AnthropicTranscoder relays the backend event feed onto the Messages SSE
// surface. The backend dialect is already block-structured, so frames pass
// through with the message identity rewritten to a fresh msg_ id and the
// client-requested model name.
type AnthropicTranscoder struct {
	id    string
	model string
	done  bool
}

// NewAnthropicTranscoder creates the per-stream state.
func NewAnthropicTranscoder(model string) *AnthropicTranscoder {
	return &AnthropicTranscoder{
		id:    "msg_" + uuid.New().String(),
		model: model,
	}
}

// Feed converts one backend event into zero or more "event:"/"data:" line
// pairs for the Messages stream.
func (t *AnthropicTranscoder) Feed(ev upstream.Event) []string {
	if t.done {
		return nil
	}

	switch ev.Type {
	case upstream.EventMessageStart:
		start := map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            t.id,
				"type":          "message",
				"role":          "assistant",
				"model":         t.model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}
		return t.event("message_start", start)

	case upstream.EventContentBlockStart, upstream.EventContentBlockDelta,
		upstream.EventContentBlockStop, upstream.EventMessageDelta, upstream.EventPing:
		return t.event(ev.Type, ev)

	case upstream.EventMessageStop:
		t.done = true
		return t.event("message_stop", map[string]string{"type": "message_stop"})

	case upstream.EventError:
		t.done = true
		msg := "stream interrupted"
		errType := ErrAPI
		if ev.Error != nil {
			msg = ev.Error.Message
			if ev.Error.Type != "" {
				errType = ev.Error.Type
			}
		}
		return t.event("error", map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": errType, "message": msg},
		})
	}

	return nil
}

// Finished reports whether the stream has emitted its terminal frame.
func (t *AnthropicTranscoder) Finished() bool {
	return t.done
}

func (t *AnthropicTranscoder) event(name string, payload interface{}) []string {
	body, _ := json.Marshal(payload)
	return []string{"event: " + name, "data: " + string(body)}
}
