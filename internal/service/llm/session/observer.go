package session

import (
	"context"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

const historyWriteTimeout = 5 * time.Second

// sessionObserver relays loop events to the session stream and keeps the
// live snapshot and the store's history current.
type sessionObserver struct {
	svc  *Service
	live *liveSession
	next domainllm.ProgressObserver
}

func (o *sessionObserver) OnDelta(ctx context.Context, event llm.DeltaEvent) {
	o.next.OnDelta(ctx, event)
}

// OnProgress sends the event, then persists the round and clears the
// stream buffer in one step, so a client attaching meanwhile is primed
// either from the buffer or from the store.
func (o *sessionObserver) OnProgress(ctx context.Context, event llm.ProgressEvent) {
	o.next.OnProgress(ctx, event)

	entry, ok := o.live.applyProgress(event)
	if !ok {
		return
	}
	progress := event.Progress.Clone()

	// The history write must not be lost to an interrupt of the session context
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	err := o.live.stream.PersistAndClear(func([]mstream.Event) error {
		return o.svc.store.AppendHistory(writeCtx, event.SessionID, entry, progress)
	})
	if err != nil {
		o.svc.logger.Warn("failed to persist round history",
			"session_id", event.SessionID,
			"iteration", entry.Iteration,
			"error", err,
		)
	}
}
