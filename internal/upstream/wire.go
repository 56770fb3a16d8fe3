// Package upstream speaks the assist backend's wire dialect: the JSON
// request/response bodies and the SSE event feed. It knows nothing about the
// client-facing OpenAI/Anthropic surfaces; translation lives one layer up.
package upstream

import "encoding/json"

// Block types carried in turns and responses.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// Request is the backend generate payload.
type Request struct {
	Model         string   `json:"model"`
	System        string   `json:"system,omitempty"`
	Turns         []Turn   `json:"turns"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Tools         []Tool   `json:"tools,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// Tool declares one callable function to the backend.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// Turn is one conversational turn. The backend rejects consecutive turns
// with the same role, so callers must merge before building a Request.
type Turn struct {
	Role   string  `json:"role"` // "user" or "assistant"
	Blocks []Block `json:"blocks"`
}

// Block is one structured content unit inside a turn or response.
// Which fields are set depends on Type.
type Block struct {
	Type string `json:"type"`

	// text / thinking
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Response is a complete (non-streamed) backend generation.
type Response struct {
	ID         string  `json:"id"`
	Model      string  `json:"model"`
	Role       string  `json:"role"`
	Blocks     []Block `json:"blocks"`
	StopReason string  `json:"stop_reason"`
	Usage      Usage   `json:"usage"`
}

// Usage is the backend's token accounting. Cache reads are reported
// separately but bill as input.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// Stop reasons the backend emits.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)
