package relay

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnthropicSystemForms(t *testing.T) {
	var req MessagesRequest
	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"system":"be terse","messages":[{"role":"user","content":"hi"}]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("string system: %v", err)
	}
	if string(req.System) != "be terse" {
		t.Errorf("System = %q", req.System)
	}

	body = `{"model":"claude-sonnet-4-5","max_tokens":100,"system":[{"type":"text","text":"one"},{"type":"text","text":"two"}],"messages":[{"role":"user","content":"hi"}]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("block system: %v", err)
	}
	if string(req.System) != "one\n\ntwo" {
		t.Errorf("System = %q", req.System)
	}
}

func TestAnthropicToCanonical(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"max_tokens": 512,
		"system": "stay focused",
		"messages": [
			{"role": "user", "content": "look it up"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "search", "input": {"q": "go"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "found it"}
			]}
		]
	}`
	var req MessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	got, gerr := AnthropicToCanonical(&req, nil)
	if gerr != nil {
		t.Fatalf("conversion failed: %v", gerr)
	}

	if got.Model != "assist-large" || got.System != "stay focused" {
		t.Errorf("Model/System = %q/%q", got.Model, got.System)
	}
	if got.Params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", got.Params.MaxTokens)
	}
	if len(got.Turns) != 3 {
		t.Fatalf("Turns = %d, want 3", len(got.Turns))
	}

	assistant := got.Turns[1]
	if len(assistant.Parts) != 2 || assistant.Parts[1].Type != PartToolUse {
		t.Fatalf("assistant parts = %+v", assistant.Parts)
	}
	if assistant.Parts[1].ToolName != "search" || string(assistant.Parts[1].ToolInput) != `{"q": "go"}` {
		t.Errorf("tool_use = %+v", assistant.Parts[1])
	}

	result := got.Turns[2].Parts[0]
	if result.Type != PartToolResult || result.ToolResultFor != "toolu_1" || result.ToolResult != "found it" {
		t.Errorf("tool_result = %+v", result)
	}
}

func TestAnthropicToCanonicalMergesSameRole(t *testing.T) {
	req := &MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 10,
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContentBlock{{Type: "text", Text: "a"}}},
			{Role: "user", Content: []AnthropicContentBlock{{Type: "text", Text: "b"}}},
		},
	}
	got, gerr := AnthropicToCanonical(req, nil)
	if gerr != nil {
		t.Fatalf("conversion failed: %v", gerr)
	}
	if len(got.Turns) != 1 || len(got.Turns[0].Parts) != 2 {
		t.Errorf("Turns = %+v", got.Turns)
	}
}

func TestAnthropicToCanonicalRejectsBadRole(t *testing.T) {
	req := &MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 10,
		Messages: []AnthropicMessage{
			{Role: "system", Content: []AnthropicContentBlock{{Type: "text", Text: "x"}}},
		},
	}
	if _, gerr := AnthropicToCanonical(req, nil); gerr == nil || gerr.Status != 400 {
		t.Fatalf("system inside messages should be rejected, got %+v", gerr)
	}
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string form", `"plain"`, "plain"},
		{"block form", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\nb"},
		{"empty", ``, ""},
		{"opaque preserved", `{"weird":true}`, `{"weird":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolResultText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("toolResultText(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCanonicalToMessagesResponse(t *testing.T) {
	resp := &Response{
		Blocks: []Block{
			{Type: BlockText, Text: "done"},
			{Type: BlockThinking, Text: "hidden"},
			{Type: BlockToolUse, ToolID: "toolu_2", ToolName: "emit", ToolInput: json.RawMessage(`{}`)},
		},
		StopReason: StopEndTurn,
		Usage:      Usage{Input: 30, Output: 7, CacheRead: 5},
	}

	got := CanonicalToMessagesResponse(resp, "claude-sonnet-4-5")

	if !strings.HasPrefix(got.ID, "msg_") {
		t.Errorf("ID = %q, want msg_ prefix", got.ID)
	}
	if got.Type != "message" || got.Role != "assistant" {
		t.Errorf("envelope = %+v", got)
	}
	if len(got.Content) != 2 {
		t.Fatalf("Content = %+v (thinking must be omitted)", got.Content)
	}
	if got.Content[0].Text != "done" || got.Content[1].Type != "tool_use" {
		t.Errorf("Content = %+v", got.Content)
	}
	if got.StopReason != StopEndTurn {
		t.Errorf("StopReason = %q", got.StopReason)
	}
	if got.Usage.InputTokens != 35 || got.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", got.Usage)
	}
}
