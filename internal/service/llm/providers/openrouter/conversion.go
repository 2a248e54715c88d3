package openrouter

import (
	"fmt"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

const defaultMaxTokens = 4096

// convertToLibraryRequest maps turns to library messages. Tool results are
// user-side blocks, so consecutive user-side turns share one message.
func convertToLibraryRequest(req *domainllm.GenerateRequest) (*llmprovider.GenerateRequest, error) {
	messages := make([]llmprovider.Message, 0, len(req.Turns))

	for i, turn := range req.Turns {
		var role string
		var blocks []*llmprovider.Block

		switch turn.Role {
		case llm.RoleUser:
			role = "user"
			if turn.Content != "" {
				blocks = append(blocks, textBlock(turn.Content))
			}
		case llm.RoleAssistant:
			role = "assistant"
			if turn.Content != "" {
				blocks = append(blocks, textBlock(turn.Content))
			}
			for _, call := range turn.ToolRequests {
				blocks = append(blocks, toolUseBlock(call))
			}
		case llm.RoleToolResult:
			role = "user"
			for _, res := range turn.ToolResults {
				blocks = append(blocks, toolResultBlock(res))
			}
		default:
			return nil, fmt.Errorf("turn %d: unsupported role '%s'", i, turn.Role)
		}

		if len(blocks) == 0 {
			continue
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Blocks = append(messages[n-1].Blocks, blocks...)
			continue
		}
		messages = append(messages, llmprovider.Message{Role: role, Blocks: blocks})
	}

	for _, msg := range messages {
		for j, block := range msg.Blocks {
			block.Sequence = j
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := &llmprovider.RequestParams{
		MaxTokens: &maxTokens,
		Tools:     convertTools(req.Tools),
	}
	if req.SystemPrompt != "" {
		system := req.SystemPrompt
		params.System = &system
	}
	if err := llmprovider.ValidateRequestParams(params); err != nil {
		return nil, err
	}

	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
		Params:   params,
	}, nil
}

func textBlock(text string) *llmprovider.Block {
	return &llmprovider.Block{
		BlockType:   llmprovider.BlockTypeText,
		TextContent: &text,
	}
}

func toolUseBlock(call llm.ToolInvocationRequest) *llmprovider.Block {
	input := call.Arguments
	if input == nil || call.HasArgumentError() {
		input = map[string]interface{}{}
	}
	block := &llmprovider.Block{
		BlockType: llmprovider.BlockTypeToolUse,
		Content: map[string]interface{}{
			"tool_use_id": call.ID,
			"tool_name":   call.Name,
			"input":       input,
		},
	}
	block.SetExecutionSide(llmprovider.ExecutionSideServer)
	return block
}

func toolResultBlock(res llm.ToolInvocationResult) *llmprovider.Block {
	return &llmprovider.Block{
		BlockType: llmprovider.BlockTypeToolResult,
		Content: map[string]interface{}{
			"tool_use_id": res.RequestID,
			"is_error":    res.IsError(),
			"content":     res.Content(),
		},
	}
}

func convertTools(defs []llm.ToolDefinition) []llmprovider.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]llmprovider.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, llmprovider.Tool{
			Type: "function",
			Function: llmprovider.FunctionDetails{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
			ExecutionSide: llmprovider.ExecutionSideServer,
		})
	}
	return tools
}

// fragmentMapper turns library block deltas into fragments. Thinking blocks
// are dropped; tool blocks are renumbered into per-round tool indexes.
type fragmentMapper struct {
	blockTypes map[int]string
	toolIndex  map[int]int
	ended      bool
}

func newFragmentMapper() *fragmentMapper {
	return &fragmentMapper{
		blockTypes: make(map[int]string),
		toolIndex:  make(map[int]int),
	}
}

func (m *fragmentMapper) convert(event llmprovider.StreamEvent) []domainllm.StreamEvent {
	switch {
	case event.Error != nil:
		return []domainllm.StreamEvent{{Err: event.Error}}
	case event.Metadata != nil:
		m.ended = true
		return []domainllm.StreamEvent{{Fragment: llm.EndFragment(event.Metadata.StopReason)}}
	case event.Delta != nil:
		return m.convertDelta(event.Delta)
	default:
		// Complete blocks repeat what the deltas already carried
		return nil
	}
}

func (m *fragmentMapper) convertDelta(delta *llmprovider.BlockDelta) []domainllm.StreamEvent {
	if delta.IsBlockStart() {
		m.blockTypes[delta.BlockIndex] = *delta.BlockType
	}

	switch {
	case delta.DeltaType == llmprovider.DeltaTypeToolCallStart:
		idx := len(m.toolIndex)
		m.toolIndex[delta.BlockIndex] = idx
		var id, name string
		if delta.ToolCallID != nil {
			id = *delta.ToolCallID
		}
		if delta.ToolCallName != nil {
			name = *delta.ToolCallName
		}
		return []domainllm.StreamEvent{{Fragment: llm.ToolStartFragment(idx, id, name)}}
	case delta.IsJSONDelta():
		idx, ok := m.toolIndex[delta.BlockIndex]
		if !ok {
			return nil
		}
		return []domainllm.StreamEvent{{Fragment: llm.ToolArgsFragment(idx, *delta.JSONDelta)}}
	case delta.IsTextDelta():
		if m.blockTypes[delta.BlockIndex] == llmprovider.BlockTypeThinking || *delta.TextDelta == "" {
			return nil
		}
		return []domainllm.StreamEvent{{Fragment: llm.TextFragment(*delta.TextDelta)}}
	default:
		return nil
	}
}
