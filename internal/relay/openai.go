package relay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAI Chat Completions request surface.

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        StopList      `json:"stop,omitempty"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	ToolChoice  interface{}   `json:"tool_choice,omitempty"`

	// Accepted for wire compatibility, not forwarded to the backend.
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	N                *int     `json:"n,omitempty"`
}

// StopList accepts both the string and array forms of the stop parameter.
type StopList []string

func (s *StopList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type ChatTool struct {
	Type     string           `json:"type"`
	Function *ChatFunctionDef `json:"function,omitempty"`
}

type ChatFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one client message with content normalized to parts.
type ChatMessage struct {
	Role       string
	Content    []ChatContentPart
	ToolCalls  []ChatToolCall
	ToolCallID string
}

type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

type ChatImageURL struct {
	URL string `json:"url"`
}

// UnmarshalJSON handles both string and multimodal array content.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ChatToolCall  `json:"tool_calls"`
		ToolCallID string          `json:"tool_call_id"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role
	m.ToolCalls = a.ToolCalls
	m.ToolCallID = a.ToolCallID

	if len(a.Content) == 0 || string(a.Content) == "null" {
		m.Content = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = []ChatContentPart{{Type: "text", Text: str}}
		return nil
	}

	var parts []ChatContentPart
	if err := json.Unmarshal(a.Content, &parts); err == nil {
		m.Content = parts
		return nil
	}

	// Malformed content is preserved verbatim rather than dropped.
	m.Content = []ChatContentPart{{Type: "text", Text: string(a.Content)}}
	return nil
}

// textContent joins the text parts of a message.
func (m *ChatMessage) textContent() string {
	var texts []string
	for _, p := range m.Content {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// OpenAIToCanonical converts a Chat Completions request to the canonical
// representation: system extraction, tool-role rewriting, same-role merging
// and model alias resolution.
func OpenAIToCanonical(req *ChatRequest, aliasOverrides map[string]string) (*Request, *Error) {
	if len(req.Messages) == 0 {
		return nil, NewError(400, ErrInvalidRequest, "messages must not be empty")
	}

	var systemParts []string
	var turns []Turn

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text := msg.textContent(); text != "" {
				systemParts = append(systemParts, text)
			}

		case "tool", "function":
			// Tool results come back as user turns referencing the
			// originating call.
			turns = append(turns, Turn{Role: RoleUser, Parts: []Part{{
				Type:          PartToolResult,
				ToolResultFor: msg.ToolCallID,
				ToolResult:    msg.textContent(),
			}}})

		case "assistant":
			var parts []Part
			if text := msg.textContent(); text != "" {
				parts = append(parts, Part{Type: PartText, Text: text})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, Part{
					Type:      PartToolUse,
					ToolID:    call.ID,
					ToolName:  call.Function.Name,
					ToolInput: rawToolInput(call.Function.Arguments),
				})
			}
			if len(parts) == 0 {
				parts = []Part{{Type: PartText, Text: ""}}
			}
			turns = append(turns, Turn{Role: RoleAssistant, Parts: parts})

		case "user":
			turns = append(turns, Turn{Role: RoleUser, Parts: userParts(msg.Content)})

		default:
			return nil, NewError(400, ErrInvalidRequest, "unsupported message role: "+msg.Role)
		}
	}

	out := &Request{
		Model:  ResolveModel(req.Model, aliasOverrides),
		System: strings.Join(systemParts, "\n\n"),
		Turns:  MergeSameRole(turns),
		Stream: req.Stream,
		Params: Params{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
		},
	}
	if req.MaxTokens != nil {
		out.Params.MaxTokens = *req.MaxTokens
	}
	for _, tool := range req.Tools {
		if tool.Type == "function" && tool.Function != nil {
			out.Tools = append(out.Tools, ToolDef{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Schema:      tool.Function.Parameters,
			})
		}
	}
	return out, nil
}

// rawToolInput returns the call arguments as JSON. Malformed payloads are
// preserved verbatim under a raw wrapper rather than dropped.
func rawToolInput(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": args})
	return wrapped
}

func userParts(content []ChatContentPart) []Part {
	var parts []Part
	for _, p := range content {
		switch p.Type {
		case "text":
			parts = append(parts, Part{Type: PartText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURL(p.ImageURL.URL); ok {
				parts = append(parts, Part{Type: PartImage, ImageMediaType: mediaType, ImageData: data})
			} else {
				// Remote URLs cannot be forwarded as inline data; keep the
				// reference as text so nothing is silently lost.
				parts = append(parts, Part{Type: PartText, Text: p.ImageURL.URL})
			}
		}
	}
	if len(parts) == 0 {
		parts = []Part{{Type: PartText, Text: ""}}
	}
	return parts
}

// parseDataURL splits a "data:<media>;base64,<data>" URL.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}

// OpenAI Chat Completions response surface.

type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int                  `json:"index"`
	Message      *ChatResponseMessage `json:"message,omitempty"`
	Delta        *ChatDelta           `json:"delta,omitempty"`
	FinishReason *string              `json:"finish_reason"`
}

type ChatResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one streamed completion frame.
type ChatStreamChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatDelta is the incremental message payload inside a stream chunk.
type ChatDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []ChatDeltaToolCall `json:"tool_calls,omitempty"`
}

type ChatDeltaToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function *ChatFunctionCallDelta `json:"function,omitempty"`
}

type ChatFunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// OpenAIFinishReason maps a canonical stop reason onto the Chat Completions
// finish_reason vocabulary.
func OpenAIFinishReason(stopReason string) string {
	switch stopReason {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

// CanonicalToChatResponse renders a canonical response as a Chat Completions
// body. Text blocks concatenate into the message content, tool-use blocks
// become tool calls, thinking blocks are omitted. Each call stamps a fresh
// id and timestamp.
func CanonicalToChatResponse(resp *Response, model string) *ChatResponse {
	msg := &ChatResponseMessage{
		Role:    "assistant",
		Content: resp.TextContent(),
	}
	for _, use := range resp.ToolUses() {
		msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
			ID:   use.ToolID,
			Type: "function",
			Function: ChatFunctionCall{
				Name:      use.ToolName,
				Arguments: string(use.ToolInput),
			},
		})
	}

	finish := OpenAIFinishReason(resp.StopReason)
	return &ChatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: &finish,
		}},
		Usage: &ChatUsage{
			PromptTokens:     resp.Usage.Input + resp.Usage.CacheRead,
			CompletionTokens: resp.Usage.Output,
			TotalTokens:      resp.Usage.Input + resp.Usage.CacheRead + resp.Usage.Output,
		},
	}
}
