// Package relay is the protocol translation layer. It defines the canonical
// dialect-neutral request/response representation and converts it to and from
// the OpenAI Chat Completions surface, the Anthropic Messages surface, and
// the assist backend wire format.
package relay

import "encoding/json"

// Turn roles in the canonical representation. System content is extracted
// into Request.System before canonicalization, so turns only carry user and
// assistant.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types inside a turn.
const (
	PartText       = "text"
	PartImage      = "image"
	PartToolUse    = "tool_use"
	PartToolResult = "tool_result"
)

// Part is one content unit of a turn.
type Part struct {
	Type string

	// text
	Text string

	// tool_use
	ToolID    string
	ToolName  string
	ToolInput json.RawMessage

	// tool_result
	ToolResultFor string // id of the originating tool_use
	ToolResult    string
	IsError       bool

	// image
	ImageMediaType string
	ImageData      string // base64
}

// Turn is one conversational turn. After MergeSameRole, turns strictly
// alternate user/assistant.
type Turn struct {
	Role  string
	Parts []Part
}

// Params are the generation parameters every dialect can express.
// Unsupported client parameters (penalties, n>1) are dropped before this
// point.
type Params struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
}

// ToolDef declares one callable tool.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Request is the canonical request bridging all three dialects.
type Request struct {
	Model  string
	System string
	Turns  []Turn
	Params Params
	Tools  []ToolDef
	Stream bool
}

// Response block types.
const (
	BlockText     = "text"
	BlockToolUse  = "tool_use"
	BlockThinking = "thinking"
)

// Block is one structured unit of response content.
type Block struct {
	Type      string
	Text      string
	ToolID    string
	ToolName  string
	ToolInput json.RawMessage
}

// Canonical stop reasons (the backend's vocabulary).
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopToolUse      = "tool_use"
	StopStopSequence = "stop_sequence"
)

// Usage is canonical token accounting. CacheRead counts input served from
// backend cache; it bills as input on the OpenAI surface.
type Usage struct {
	Input     int
	Output    int
	CacheRead int
}

// Response is the canonical generation result.
type Response struct {
	Model      string
	Blocks     []Block
	StopReason string
	Usage      Usage
}

// MergeSameRole collapses consecutive turns with the same role into one turn
// by concatenating their parts in order. The canonical dialect (and the
// backend) forbid same-role repetition.
func MergeSameRole(turns []Turn) []Turn {
	if len(turns) < 2 {
		return turns
	}

	merged := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if len(merged) > 0 && merged[len(merged)-1].Role == turn.Role {
			last := &merged[len(merged)-1]
			last.Parts = append(last.Parts, turn.Parts...)
			continue
		}
		// Copy parts so merging never aliases a caller's slice.
		t := Turn{Role: turn.Role, Parts: append([]Part(nil), turn.Parts...)}
		merged = append(merged, t)
	}
	return merged
}

// TextContent concatenates the text blocks of a response, skipping tool-use
// and thinking blocks.
func (r *Response) TextContent() string {
	out := ""
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool-use blocks of a response in order.
func (r *Response) ToolUses() []Block {
	var uses []Block
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}
