package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

// buildMessageParams converts a transport request to SDK parameters.
func buildMessageParams(req *domainllm.GenerateRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertTurns(req.Turns)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert turns: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertTurns maps turns to SDK messages. Tool results travel in user
// messages, so consecutive user-side turns are merged into one message.
func convertTurns(turns []llm.Turn) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(turns))

	for i, turn := range turns {
		var role anthropic.MessageParamRole
		var blocks []anthropic.ContentBlockParamUnion

		switch turn.Role {
		case llm.RoleUser:
			role = anthropic.MessageParamRoleUser
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
		case llm.RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, req := range turn.ToolRequests {
				blocks = append(blocks, anthropic.NewToolUseBlock(req.ID, toolInput(req), req.Name))
			}
		case llm.RoleToolResult:
			role = anthropic.MessageParamRoleUser
			for _, res := range turn.ToolResults {
				blocks = append(blocks, toolResultBlock(res))
			}
		default:
			return nil, fmt.Errorf("turn %d: unsupported role '%s'", i, turn.Role)
		}

		if len(blocks) == 0 {
			continue
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
			continue
		}
		result = append(result, anthropic.MessageParam{Role: role, Content: blocks})
	}

	return result, nil
}

// toolInput returns the arguments to echo back in a tool_use block.
// Unparseable arguments are sent as an empty object; the paired result
// carries the parse error.
func toolInput(req llm.ToolInvocationRequest) map[string]interface{} {
	if req.Arguments == nil || req.HasArgumentError() {
		return map[string]interface{}{}
	}
	return req.Arguments
}

func toolResultBlock(res llm.ToolInvocationResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: res.RequestID,
		IsError:   anthropic.Bool(res.IsError()),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: res.Content()}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

// convertTools maps tool definitions to SDK tool params.
func convertTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: def.Parameters["properties"],
			Required:   def.RequiredParameters(),
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}
