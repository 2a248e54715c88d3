package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"

	"cadence/internal/domain/models/llm"
)

const catchupTimeout = 5 * time.Second

// SessionReader is the part of the session store catchup needs.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*llm.Session, error)
}

// BuildCatchupFunc creates the catchup function for session streams.
// It replays session_start and, once a round has been persisted, the
// progress event of the latest round. Events still in the stream's buffer
// follow it.
func BuildCatchupFunc(store SessionReader, logger *slog.Logger) mstream.CatchupFunc {
	return func(streamID string, lastEventID string) ([]mstream.Event, error) {
		ctx, cancel := context.WithTimeout(context.Background(), catchupTimeout)
		defer cancel()

		session, err := store.GetSession(ctx, streamID)
		if err != nil {
			logger.Error("failed to get session for catchup",
				"session_id", streamID,
				"error", err,
			)
			return nil, fmt.Errorf("failed to get session: %w", err)
		}

		var events []mstream.Event
		start, err := NewEvent(llm.SSEEventSessionStart, llm.SessionStartEvent{
			SessionID:     session.ID,
			Model:         session.Model,
			MaxIterations: session.MaxIterations,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, start)

		if progress, ok := LastProgressEvent(session); ok {
			event, err := NewEvent(llm.SSEEventProgress, progress)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}

		logger.Debug("catchup events built",
			"session_id", streamID,
			"last_event_id", lastEventID,
			"total_events", len(events),
		)
		return events, nil
	}
}

// LastProgressEvent rebuilds the progress event of a session's latest
// recorded round. Tool names are not stored, only their count.
func LastProgressEvent(session *llm.Session) (llm.ProgressEvent, bool) {
	if len(session.History) == 0 {
		return llm.ProgressEvent{}, false
	}
	last := session.History[len(session.History)-1]

	event := llm.ProgressEvent{
		SessionID:       session.ID,
		Iteration:       last.Iteration + 1,
		MaxIterations:   session.MaxIterations,
		Status:          last.Status,
		Reason:          last.Reason,
		Source:          last.Source,
		ActiveToolNames: []string{},
		Timestamp:       last.Timestamp,
	}
	if session.Progress != nil {
		event.Progress = session.Progress.Clone()
	}
	return event, true
}
