package llm

import (
	"context"

	"cadence/internal/domain/models/llm"
)

// ModelTransport sends a conversation to a language model and streams the
// response back as fragments. Implementations wrap a provider SDK.
type ModelTransport interface {
	// Stream starts a model call. The returned channel delivers fragments in
	// order and is closed after the FragmentEnd marker or after an event
	// carrying Err. Cancelling ctx aborts the call.
	Stream(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "anthropic")
	Name() string
}

// GenerateRequest contains the parameters for one model call.
type GenerateRequest struct {
	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// SystemPrompt is sent separately from the turns when non-empty
	SystemPrompt string

	// Turns is the conversation so far, oldest first
	Turns []llm.Turn

	// Tools are advertised to the model for this call
	Tools []llm.ToolDefinition

	// MaxTokens bounds the response length
	MaxTokens int
}

// StreamEvent is one item on a transport stream: a fragment or a failure.
type StreamEvent struct {
	Fragment llm.Fragment
	Err      error
}
