package llm

import (
	"context"

	"cadence/internal/domain/models/llm"
)

// SessionService starts continuation sessions and exposes their state.
type SessionService interface {
	// StartSession validates the request, persists the session and runs it in
	// the background. It returns as soon as the session is running.
	StartSession(ctx context.Context, req *CreateSessionRequest) (*llm.Session, error)

	// GetSession returns the live snapshot of a running session or the stored
	// record of a finished one.
	GetSession(ctx context.Context, sessionID string) (*llm.Session, error)

	// GetTurns returns the ordered turn sequence of a session.
	GetTurns(ctx context.Context, sessionID string) ([]llm.Turn, error)

	// Interrupt cancels a running session.
	Interrupt(ctx context.Context, sessionID string) error
}

// CreateSessionRequest is the DTO for starting a continuation session
type CreateSessionRequest struct {
	Messages     []MessageInput          `json:"messages"`
	SystemPrompt *string                 `json:"system_prompt,omitempty"`
	Model        string                  `json:"model,omitempty"`
	Tools        []string                `json:"tools,omitempty"` // Subset of registered tools; empty means all
	Continuation *llm.ContinuationOverrides `json:"continuation,omitempty"`
}

// MessageInput is one prior message supplied by the caller
type MessageInput struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
