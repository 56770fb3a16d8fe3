package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// Event types the backend stream emits. Consumers must tolerate types not
// listed here and treat them as no-ops.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Event is one frame of the backend SSE feed. Which fields are populated
// depends on Type.
type Event struct {
	Type string `json:"type"`

	Message      *Response    `json:"message,omitempty"`       // message_start
	Index        int          `json:"index,omitempty"`         // content_block_*
	ContentBlock *Block       `json:"content_block,omitempty"` // content_block_start
	Delta        *Delta       `json:"delta,omitempty"`         // content_block_delta, message_delta
	Usage        *Usage       `json:"usage,omitempty"`         // message_delta
	Error        *StreamError `json:"error,omitempty"`         // error
}

// Delta is the incremental payload of a content_block_delta or message_delta.
type Delta struct {
	Type        string `json:"type,omitempty"` // text_delta, input_json_delta, thinking_delta
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// StreamError is the body of a terminal error event.
type StreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// readEvents parses an SSE body into events, sending them on out until EOF
// or context cancellation. Lines that are not data records, and data payloads
// that fail to parse, are skipped; the stream position still advances.
func readEvents(ctx context.Context, body io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Type == "" {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
