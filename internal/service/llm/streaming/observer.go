package streaming

import (
	"context"
	"log/slog"

	mstream "github.com/haowjy/meridian-stream-go"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

// Observer forwards loop events to a stream's send function.
type Observer struct {
	send   func(mstream.Event)
	logger *slog.Logger
}

var _ domainllm.ProgressObserver = (*Observer)(nil)

// NewObserver creates an observer that emits through send.
func NewObserver(send func(mstream.Event), logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{send: send, logger: logger}
}

// OnDelta emits a round_delta event.
func (o *Observer) OnDelta(_ context.Context, event llm.DeltaEvent) {
	Send(o.send, o.logger, llm.SSEEventRoundDelta, event)
}

// OnProgress emits a progress event.
func (o *Observer) OnProgress(_ context.Context, event llm.ProgressEvent) {
	Send(o.send, o.logger, llm.SSEEventProgress, event)
}
