package llm

import (
	"time"
)

// ContinuationStatus is the outcome of a continuation decision
type ContinuationStatus string

const (
	StatusContinue  ContinuationStatus = "continue"
	StatusTerminate ContinuationStatus = "terminate"
)

// DetectionSource records how a decision was reached
type DetectionSource string

const (
	SourceExplicit  DetectionSource = "explicit"  // Structured signal in the model response
	SourceHeuristic DetectionSource = "heuristic" // Pattern match over response text
	SourceDefault   DetectionSource = "default"   // Nothing matched, conservative stop
	SourceSafety    DetectionSource = "safety"    // Iteration or time limit reached
	SourceTransport DetectionSource = "transport" // Model call failed
)

// ReasonSafetyLimit is the reason attached to every forced cutoff.
const ReasonSafetyLimit = "safety limit reached"

// Progress is the model's (or synthesized) view of how far the task has come
type Progress struct {
	CurrentStep          int      `json:"current_step" yaml:"current_step"`
	TotalSteps           int      `json:"total_steps" yaml:"total_steps"`
	CompletionPercentage float64  `json:"completion_percentage" yaml:"completion_percentage"`
	StepsCompleted       []string `json:"steps_completed" yaml:"steps_completed"`
	StepsRemaining       []string `json:"steps_remaining" yaml:"steps_remaining"`
}

// Clone returns a copy that shares no slices with p
func (p Progress) Clone() Progress {
	p.StepsCompleted = append([]string{}, p.StepsCompleted...)
	p.StepsRemaining = append([]string{}, p.StepsRemaining...)
	return p
}

// NextAction is a suggested next step, either from the model or implied by pending tool calls
type NextAction struct {
	Description  string                 `json:"description,omitempty"`
	Tool         string                 `json:"tool,omitempty"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	PendingTools []string               `json:"pending_tools,omitempty"`
}

// ContinuationSignal is the model's self-reported intent for a round.
// A nil *ContinuationSignal means the model did not emit one.
type ContinuationSignal struct {
	Status     ContinuationStatus `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Progress   *Progress          `json:"progress,omitempty"`
	NextAction *NextAction        `json:"next_action,omitempty"`
}

// Decision is the result of evaluating one round
type Decision struct {
	Status     ContinuationStatus `json:"status"`
	Reason     string             `json:"reason"`
	Source     DetectionSource    `json:"source"`
	Iteration  int                `json:"iteration"`
	Progress   Progress           `json:"progress"`
	NextAction *NextAction        `json:"next_action,omitempty"`
}

// ShouldContinue returns true if another round should run
func (d Decision) ShouldContinue() bool {
	return d.Status == StatusContinue
}

// IsSafetyStop returns true if the session was cut off by a safety limit
// rather than finishing on its own
func (d Decision) IsSafetyStop() bool {
	return d.Source == SourceSafety
}

// HistoryEntry summarizes one evaluated round
type HistoryEntry struct {
	Iteration     int                `json:"iteration"`
	Timestamp     time.Time          `json:"timestamp"`
	Status        ContinuationStatus `json:"status"`
	Source        DetectionSource    `json:"source"`
	ToolCallCount int                `json:"tool_call_count"`
	Reason        string             `json:"reason"`
}

// ContinuationOverrides are per-session changes to the continuation config.
// Nil fields keep the configured value.
type ContinuationOverrides struct {
	RequireExplicitSignal *bool    `json:"require_explicit_signal,omitempty"`
	MaxIterations         *int     `json:"max_iterations,omitempty"`
	TimeoutSeconds        *int     `json:"timeout_seconds,omitempty"`
	ContinuationPatterns  []string `json:"continuation_patterns,omitempty"`
	TerminationPatterns   []string `json:"termination_patterns,omitempty"`
}
