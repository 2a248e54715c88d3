package openrouter

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

// fakeProvider replays a fixed event list and records the last request.
type fakeProvider struct {
	events  []llmprovider.StreamEvent
	lastReq *llmprovider.GenerateRequest
}

func (f *fakeProvider) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	f.lastReq = req
	ch := make(chan llmprovider.StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() llmprovider.ProviderID { return llmprovider.ProviderOpenRouter }

func (f *fakeProvider) SupportsModel(model string) bool { return strings.Contains(model, "/") }

func strPtr(s string) *string { return &s }

func blockStart(index int, blockType string) llmprovider.StreamEvent {
	return llmprovider.StreamEvent{Delta: &llmprovider.BlockDelta{
		BlockIndex: index,
		BlockType:  strPtr(blockType),
		DeltaType:  llmprovider.DeltaTypeText,
	}}
}

func textDelta(index int, text string) llmprovider.StreamEvent {
	return llmprovider.StreamEvent{Delta: &llmprovider.BlockDelta{
		BlockIndex: index,
		DeltaType:  llmprovider.DeltaTypeText,
		TextDelta:  strPtr(text),
	}}
}

func drain(t *testing.T, ch <-chan domainllm.StreamEvent) ([]llm.Fragment, error) {
	t.Helper()
	var out []llm.Fragment
	for ev := range ch {
		if ev.Err != nil {
			return out, ev.Err
		}
		out = append(out, ev.Fragment)
	}
	return out, nil
}

func TestAdapter_Name(t *testing.T) {
	if got := NewAdapterWithProvider(&fakeProvider{}).Name(); got != "openrouter" {
		t.Errorf("Name() = %q, want openrouter", got)
	}
}

func TestNewAdapter_RequiresKey(t *testing.T) {
	if _, err := NewAdapter(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestStream_MapsDeltasToFragments(t *testing.T) {
	provider := &fakeProvider{events: []llmprovider.StreamEvent{
		blockStart(0, llmprovider.BlockTypeThinking),
		textDelta(0, "hmm"),
		blockStart(1, llmprovider.BlockTypeText),
		textDelta(1, "Checking "),
		textDelta(1, "the time."),
		{Block: &llmprovider.Block{BlockType: llmprovider.BlockTypeText, Sequence: 1, TextContent: strPtr("Checking the time.")}},
		{Delta: &llmprovider.BlockDelta{
			BlockIndex:   2,
			BlockType:    strPtr(llmprovider.BlockTypeToolUse),
			DeltaType:    llmprovider.DeltaTypeToolCallStart,
			ToolCallID:   strPtr("call_1"),
			ToolCallName: strPtr("current_time"),
		}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 2, DeltaType: llmprovider.DeltaTypeJSON, JSONDelta: strPtr(`{"timezone":`)}},
		{Delta: &llmprovider.BlockDelta{BlockIndex: 2, DeltaType: llmprovider.DeltaTypeJSON, JSONDelta: strPtr(`"UTC"}`)}},
		{Metadata: &llmprovider.StreamMetadata{StopReason: "tool_calls"}},
	}}

	ch, err := NewAdapterWithProvider(provider).Stream(context.Background(), &domainllm.GenerateRequest{
		Model: "anthropic/claude-3.5-sonnet",
		Turns: []llm.Turn{llm.NewUserTurn("what time is it?")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got, err := drain(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	want := []llm.Fragment{
		llm.TextFragment("Checking "),
		llm.TextFragment("the time."),
		llm.ToolStartFragment(0, "call_1", "current_time"),
		llm.ToolArgsFragment(0, `{"timezone":`),
		llm.ToolArgsFragment(0, `"UTC"}`),
		llm.EndFragment("tool_calls"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fragments, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fragment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStream_ProviderError(t *testing.T) {
	provider := &fakeProvider{events: []llmprovider.StreamEvent{
		textDelta(0, "partial"),
		{Error: errors.New("upstream reset")},
	}}
	ch, err := NewAdapterWithProvider(provider).Stream(context.Background(), &domainllm.GenerateRequest{
		Model: "openai/gpt-4o",
		Turns: []llm.Turn{llm.NewUserTurn("hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if _, err := drain(t, ch); err == nil || !strings.Contains(err.Error(), "upstream reset") {
		t.Errorf("stream error = %v, want upstream reset", err)
	}
}

func TestStream_ClosedWithoutMetadata(t *testing.T) {
	provider := &fakeProvider{events: []llmprovider.StreamEvent{textDelta(0, "cut")}}
	ch, err := NewAdapterWithProvider(provider).Stream(context.Background(), &domainllm.GenerateRequest{
		Model: "openai/gpt-4o",
		Turns: []llm.Turn{llm.NewUserTurn("hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if _, err := drain(t, ch); err == nil {
		t.Error("expected error when the stream ends without an end marker")
	}
}

func TestStream_UnsupportedModel(t *testing.T) {
	_, err := NewAdapterWithProvider(&fakeProvider{}).Stream(context.Background(), &domainllm.GenerateRequest{Model: "gpt-4o"})
	if err == nil {
		t.Error("expected error for a model without a vendor prefix")
	}
}

func TestConvertToLibraryRequest(t *testing.T) {
	system := "be brief"
	req := &domainllm.GenerateRequest{
		Model:        "openai/gpt-4o",
		SystemPrompt: system,
		MaxTokens:    256,
		Tools:        llm.GetBuiltinToolDefinitions(false),
		Turns: []llm.Turn{
			llm.NewUserTurn("what time is it?"),
			{
				Role:    llm.RoleAssistant,
				Content: "Let me check.",
				ToolRequests: []llm.ToolInvocationRequest{
					{ID: "call_1", Name: "current_time", Arguments: map[string]interface{}{"timezone": "UTC"}},
				},
			},
			{
				Role: llm.RoleToolResult,
				ToolResults: []llm.ToolInvocationResult{
					{RequestID: "call_1", ToolName: "current_time", Kind: llm.ResultSuccess, Output: "12:00"},
				},
			},
			llm.NewUserTurn("thanks"),
		},
	}

	got, err := convertToLibraryRequest(req)
	if err != nil {
		t.Fatalf("convertToLibraryRequest() error = %v", err)
	}

	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (tool result merged with the next user turn)", len(got.Messages))
	}
	if got.Messages[1].Role != "assistant" || len(got.Messages[1].Blocks) != 2 {
		t.Fatalf("assistant message = %+v", got.Messages[1])
	}
	toolUse := got.Messages[1].Blocks[1]
	if id, _ := toolUse.GetToolUseID(); id != "call_1" {
		t.Errorf("tool_use id = %q, want call_1", id)
	}
	if name, _ := toolUse.GetToolName(); name != "current_time" {
		t.Errorf("tool_use name = %q, want current_time", name)
	}
	if !toolUse.IsBackendSideTool() {
		t.Error("tool_use should execute on the server")
	}

	user := got.Messages[2]
	if user.Role != "user" || len(user.Blocks) != 2 {
		t.Fatalf("merged user message = %+v", user)
	}
	result := user.Blocks[0]
	if result.BlockType != llmprovider.BlockTypeToolResult || result.Content["content"] != "12:00" {
		t.Errorf("tool_result block = %+v", result)
	}
	if user.Blocks[1].Sequence != 1 {
		t.Errorf("sequence = %d, want 1", user.Blocks[1].Sequence)
	}

	if got.Params.System == nil || *got.Params.System != system {
		t.Errorf("system = %v, want %q", got.Params.System, system)
	}
	if got.Params.MaxTokens == nil || *got.Params.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", got.Params.MaxTokens)
	}
	if len(got.Params.Tools) != 1 || got.Params.Tools[0].Function.Name != "current_time" {
		t.Errorf("tools = %+v", got.Params.Tools)
	}
}

func TestConvertToLibraryRequest_RejectsUnknownRole(t *testing.T) {
	_, err := convertToLibraryRequest(&domainllm.GenerateRequest{
		Model: "openai/gpt-4o",
		Turns: []llm.Turn{{Role: "system", Content: "x"}},
	})
	if err == nil {
		t.Error("expected error for unknown role")
	}
}
