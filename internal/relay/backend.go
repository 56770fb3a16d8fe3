package relay

import "github.com/seolaris/poolgate/internal/upstream"

// CanonicalToBackend renders a canonical request as the assist backend wire
// payload. Turns must already be merged; the backend rejects same-role
// repetition.
func CanonicalToBackend(req *Request) *upstream.Request {
	out := &upstream.Request{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     req.Params.MaxTokens,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.Stop,
		Stream:        req.Stream,
	}

	for _, turn := range req.Turns {
		blocks := make([]upstream.Block, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			switch part.Type {
			case PartText:
				blocks = append(blocks, upstream.Block{Type: upstream.BlockText, Text: part.Text})
			case PartToolUse:
				blocks = append(blocks, upstream.Block{
					Type:  upstream.BlockToolUse,
					ID:    part.ToolID,
					Name:  part.ToolName,
					Input: part.ToolInput,
				})
			case PartToolResult:
				blocks = append(blocks, upstream.Block{
					Type:      upstream.BlockToolResult,
					ToolUseID: part.ToolResultFor,
					Content:   part.ToolResult,
					IsError:   part.IsError,
				})
			case PartImage:
				blocks = append(blocks, upstream.Block{
					Type:      upstream.BlockImage,
					MediaType: part.ImageMediaType,
					Data:      part.ImageData,
				})
			}
		}
		out.Turns = append(out.Turns, upstream.Turn{Role: turn.Role, Blocks: blocks})
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, upstream.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Schema,
		})
	}
	return out
}

// BackendToCanonical lifts a backend response into the canonical
// representation. Thinking blocks are carried through; the client renderers
// decide whether to surface them.
func BackendToCanonical(resp *upstream.Response) *Response {
	out := &Response{
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage: Usage{
			Input:     resp.Usage.InputTokens,
			Output:    resp.Usage.OutputTokens,
			CacheRead: resp.Usage.CacheReadInputTokens,
		},
	}

	for _, block := range resp.Blocks {
		switch block.Type {
		case upstream.BlockText:
			out.Blocks = append(out.Blocks, Block{Type: BlockText, Text: block.Text})
		case upstream.BlockToolUse:
			out.Blocks = append(out.Blocks, Block{
				Type:      BlockToolUse,
				ToolID:    block.ID,
				ToolName:  block.Name,
				ToolInput: block.Input,
			})
		case upstream.BlockThinking:
			out.Blocks = append(out.Blocks, Block{Type: BlockThinking, Text: block.Text})
		}
	}
	return out
}
