package llm

import (
	"context"

	"cadence/internal/domain/models/llm"
)

// SessionStore persists continuation sessions, their per-round history and
// their final turn sequence.
type SessionStore interface {
	// CreateSession inserts a new running session.
	CreateSession(ctx context.Context, session *llm.Session) error

	// AppendHistory records one round's decision for a session along with
	// the progress snapshot after that round.
	AppendHistory(ctx context.Context, sessionID string, entry llm.HistoryEntry, progress llm.Progress) error

	// CompleteSession stores the terminal fields of session (status, reason,
	// source, iterations, response, error, progress, completed_at) together
	// with the full turn sequence.
	CompleteSession(ctx context.Context, session *llm.Session, turns []llm.Turn) error

	// GetSession returns a session with its history and latest progress attached.
	// Returns domain.ErrNotFound for unknown IDs.
	GetSession(ctx context.Context, sessionID string) (*llm.Session, error)

	// GetTurns returns the stored turns of a completed session, oldest first.
	// Returns domain.ErrNotFound for unknown IDs.
	GetTurns(ctx context.Context, sessionID string) ([]llm.Turn, error)
}
