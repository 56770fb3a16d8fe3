package relay

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Anthropic Messages request surface.

type MessagesRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Stream        bool               `json:"stream,omitempty"`
	System        AnthropicSystem    `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
}

// AnthropicSystem accepts both the string form and the block-array form of
// the system field.
type AnthropicSystem string

func (s *AnthropicSystem) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = AnthropicSystem(str)
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	*s = AnthropicSystem(strings.Join(texts, "\n\n"))
	return nil
}

type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// AnthropicMessage is one client message with content normalized to blocks.
type AnthropicMessage struct {
	Role    string
	Content []AnthropicContentBlock
}

type AnthropicContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// UnmarshalJSON handles both string and block-array content.
func (m *AnthropicMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role

	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = []AnthropicContentBlock{{Type: "text", Text: str}}
		return nil
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(a.Content, &blocks); err == nil {
		m.Content = blocks
		return nil
	}

	m.Content = []AnthropicContentBlock{{Type: "text", Text: string(a.Content)}}
	return nil
}

// AnthropicToCanonical converts a Messages request to the canonical
// representation.
func AnthropicToCanonical(req *MessagesRequest, aliasOverrides map[string]string) (*Request, *Error) {
	if len(req.Messages) == 0 {
		return nil, NewError(400, ErrInvalidRequest, "messages must not be empty")
	}

	var turns []Turn
	for _, msg := range req.Messages {
		role := msg.Role
		if role != RoleUser && role != RoleAssistant {
			return nil, NewError(400, ErrInvalidRequest, "unsupported message role: "+role)
		}

		var parts []Part
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				parts = append(parts, Part{Type: PartText, Text: block.Text})
			case "tool_use":
				parts = append(parts, Part{
					Type:      PartToolUse,
					ToolID:    block.ID,
					ToolName:  block.Name,
					ToolInput: block.Input,
				})
			case "tool_result":
				parts = append(parts, Part{
					Type:          PartToolResult,
					ToolResultFor: block.ToolUseID,
					ToolResult:    toolResultText(block.Content),
					IsError:       block.IsError,
				})
			case "image":
				if block.Source != nil {
					parts = append(parts, Part{
						Type:           PartImage,
						ImageMediaType: block.Source.MediaType,
						ImageData:      block.Source.Data,
					})
				}
			}
		}
		if len(parts) == 0 {
			parts = []Part{{Type: PartText, Text: ""}}
		}
		turns = append(turns, Turn{Role: role, Parts: parts})
	}

	out := &Request{
		Model:  ResolveModel(req.Model, aliasOverrides),
		System: string(req.System),
		Turns:  MergeSameRole(turns),
		Stream: req.Stream,
		Params: Params{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.StopSequences,
		},
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, ToolDef{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.InputSchema,
		})
	}
	return out, nil
}

// toolResultText flattens a tool_result content payload (string or block
// array) into plain text. Unrecognized shapes are preserved verbatim.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	return string(raw)
}

// Anthropic Messages response surface.

type MessagesResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []AnthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CanonicalToMessagesResponse renders a canonical response as a Messages
// body with a fresh msg_ id. Thinking blocks are omitted.
func CanonicalToMessagesResponse(resp *Response, model string) *MessagesResponse {
	var content []AnthropicContentBlock
	for _, block := range resp.Blocks {
		switch block.Type {
		case BlockText:
			content = append(content, AnthropicContentBlock{Type: "text", Text: block.Text})
		case BlockToolUse:
			content = append(content, AnthropicContentBlock{
				Type:  "tool_use",
				ID:    block.ToolID,
				Name:  block.ToolName,
				Input: block.ToolInput,
			})
		}
	}
	if content == nil {
		content = []AnthropicContentBlock{{Type: "text", Text: ""}}
	}

	return &MessagesResponse{
		ID:         "msg_" + uuid.New().String(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: resp.StopReason,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.Input + resp.Usage.CacheRead,
			OutputTokens: resp.Usage.Output,
		},
	}
}
