package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	llmModels "cadence/internal/domain/models/llm"
	llmSvc "cadence/internal/domain/services/llm"
	"cadence/internal/handler/sse"
	"cadence/internal/httputil"
	"cadence/internal/service/llm/streaming"
)

// SessionStreams looks up the stream of a running session.
// *mstream.Registry implements it.
type SessionStreams interface {
	Get(sessionID string) *mstream.Stream
}

// SessionHandler handles continuation session HTTP requests
type SessionHandler struct {
	service   llmSvc.SessionService
	streams   SessionStreams
	sseConfig *sse.Config
	logger    *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	service llmSvc.SessionService,
	streams SessionStreams,
	sseConfig *sse.Config,
	logger *slog.Logger,
) *SessionHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		service:   service,
		streams:   streams,
		sseConfig: sseConfig,
		logger:    logger,
	}
}

// CreateSession starts a continuation session
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req llmSvc.CreateSessionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.service.StartSession(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, session)
}

// GetSession returns a session's current state
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, session)
}

// GetTurns returns the full turn sequence of a finished session
// GET /api/sessions/{id}/turns
func (h *SessionHandler) GetTurns(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	turns, err := h.service.GetTurns(r.Context(), sessionID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// InterruptSession cancels a running session
// POST /api/sessions/{id}/interrupt
func (h *SessionHandler) InterruptSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	if err := h.service.Interrupt(r.Context(), sessionID); err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": sessionID,
		"status":     "interrupting",
	})
}

// StreamSession streams session events via Server-Sent Events (SSE)
// GET /api/sessions/{id}/stream
//
// A client attaching to a running session first receives session_start and
// the latest progress, then live events. A Last-Event-ID header resumes from
// the stream buffer. A finished session gets a single session_complete
// event built from its stored record.
func (h *SessionHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.New().String()
	logger := h.logger.With("session_id", sessionID, "client_id", clientID)

	stream := h.streams.Get(sessionID)
	if stream == nil {
		session, err := h.service.GetSession(r.Context(), sessionID)
		if err != nil {
			handleError(w, err)
			return
		}
		writer := startSSE(w, flusher, sessionID, clientID)
		h.writeCompletion(writer, logger, session)
		return
	}

	// Attach before reading the buffer so nothing falls between the two
	eventChan := stream.AddClient(clientID)
	defer stream.RemoveClient(clientID)

	writer := startSSE(w, flusher, sessionID, clientID)
	logger.Debug("SSE client attached")

	lastEventID := r.Header.Get("Last-Event-ID")
	var lastSeq int64
	if lastEventID != "" {
		lastSeq = streaming.Sequence(mstream.Event{ID: lastEventID})
	}

	// forward writes one event and reports whether the stream should end
	forward := func(event mstream.Event) bool {
		if seq := streaming.Sequence(event); seq > 0 {
			if seq <= lastSeq {
				return false
			}
			lastSeq = seq
		}
		if !h.writeEvent(writer, logger, event) {
			return true
		}
		return event.Type == llmModels.SSEEventSessionComplete
	}

	for _, event := range stream.GetCatchupEvents(lastEventID) {
		if forward(event) {
			return
		}
	}

	// The work function may have ended before AddClient, in which case
	// eventChan is never closed. Take what it holds, then use the store.
	if streamFinished(stream.Status()) {
		for {
			select {
			case event, open := <-eventChan:
				if !open {
					h.finishFromStore(r.Context(), writer, logger, sessionID)
					return
				}
				if forward(event) {
					return
				}
			default:
				h.finishFromStore(r.Context(), writer, logger, sessionID)
				return
			}
		}
	}

	keepAlive := sse.NewTickerKeepAlive(h.sseConfig.KeepAliveInterval)
	stopped := keepAlive.Start(writer, logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("SSE client disconnected")
			return
		case <-stopped:
			return
		case event, open := <-eventChan:
			if !open {
				// session_complete may have been dropped for a slow client
				h.finishFromStore(r.Context(), writer, logger, sessionID)
				return
			}
			if forward(event) {
				return
			}
		}
	}
}

func startSSE(w http.ResponseWriter, flusher http.Flusher, sessionID, clientID string) *sse.SSEKeepAliveWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return sse.NewSSEKeepAliveWriter(w, flusher, sessionID, clientID)
}

func streamFinished(status mstream.Status) bool {
	return status != mstream.StatusPending && status != mstream.StatusRunning
}

// finishFromStore ends a stream whose channel closed without delivering
// session_complete.
func (h *SessionHandler) finishFromStore(ctx context.Context, writer *sse.SSEKeepAliveWriter, logger *slog.Logger, sessionID string) {
	session, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to load finished session for SSE client", "error", err)
		return
	}
	h.writeCompletion(writer, logger, session)
}

func (h *SessionHandler) writeCompletion(writer *sse.SSEKeepAliveWriter, logger *slog.Logger, session *llmModels.Session) {
	event, err := streaming.NewEvent(llmModels.SSEEventSessionComplete, completeEventFromSession(session))
	if err != nil {
		logger.Error("failed to encode session_complete", "error", err)
		return
	}
	h.writeEvent(writer, logger, event)
}

func (h *SessionHandler) writeEvent(writer *sse.SSEKeepAliveWriter, logger *slog.Logger, event mstream.Event) bool {
	if err := writer.WriteEvent(event); err != nil {
		logger.Warn("failed to write SSE event", "event", event.Type, "error", err)
		return false
	}
	return true
}

func completeEventFromSession(session *llmModels.Session) llmModels.SessionCompleteEvent {
	event := llmModels.SessionCompleteEvent{
		SessionID:  session.ID,
		Status:     llmModels.StatusTerminate,
		Iterations: session.Iterations,
	}
	if session.FinalReason != nil {
		event.Reason = *session.FinalReason
	} else if session.Error != nil {
		event.Reason = *session.Error
	}
	if session.FinalSource != nil {
		event.Source = llmModels.DetectionSource(*session.FinalSource)
	}
	if session.Response != nil {
		event.Response = *session.Response
	}
	return event
}

// Health reports process liveness
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
