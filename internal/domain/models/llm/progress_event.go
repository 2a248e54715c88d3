package llm

import (
	"time"
)

// SSE event type constants
const (
	SSEEventSessionStart    = "session_start"    // Continuation session has begun
	SSEEventRoundDelta      = "round_delta"      // Streamed fragment from the current round
	SSEEventProgress        = "progress"         // A round finished
	SSEEventSessionComplete = "session_complete" // Final decision reached
)

// ProgressEvent is emitted after every round, whether or not the session continues.
type ProgressEvent struct {
	SessionID       string             `json:"session_id"`
	Iteration       int                `json:"iteration"`
	MaxIterations   int                `json:"max_iterations"`
	Status          ContinuationStatus `json:"status"`
	Reason          string             `json:"reason,omitempty"`
	Source          DetectionSource    `json:"source"`
	Progress        Progress           `json:"progress"`
	ActiveToolNames []string           `json:"active_tool_names"`
	Timestamp       time.Time          `json:"timestamp"`
}

// DeltaEvent relays one fragment while a round is streaming
type DeltaEvent struct {
	SessionID string   `json:"session_id"`
	Iteration int      `json:"iteration"`
	Fragment  Fragment `json:"fragment"`
}

// SessionStartEvent signals that a session has started running
type SessionStartEvent struct {
	SessionID     string `json:"session_id"`
	Model         string `json:"model"`
	MaxIterations int    `json:"max_iterations"`
}

// SessionCompleteEvent signals that the session has terminated
type SessionCompleteEvent struct {
	SessionID  string             `json:"session_id"`
	Status     ContinuationStatus `json:"status"`
	Reason     string             `json:"reason"`
	Source     DetectionSource    `json:"source"`
	Iterations int                `json:"iterations"`
	Response   string             `json:"response"`
}
