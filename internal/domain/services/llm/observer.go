package llm

import (
	"context"

	"cadence/internal/domain/models/llm"
)

// ProgressObserver receives liveness information from a running session.
// Implementations must not block: the orchestration loop calls them inline.
type ProgressObserver interface {
	// OnDelta is called for every fragment while a round is streaming
	OnDelta(ctx context.Context, event llm.DeltaEvent)

	// OnProgress is called once after every round
	OnProgress(ctx context.Context, event llm.ProgressEvent)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnDelta(context.Context, llm.DeltaEvent)       {}
func (NopObserver) OnProgress(context.Context, llm.ProgressEvent) {}
