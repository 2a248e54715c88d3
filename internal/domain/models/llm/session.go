package llm

import (
	"time"
)

// Session status values
const (
	SessionStatusRunning   = "running"
	SessionStatusComplete  = "complete"
	SessionStatusCancelled = "cancelled"
	SessionStatusError     = "error"
)

// Session is the persisted record of one continuation session
type Session struct {
	ID            string     `json:"id" db:"id"`
	Model         string     `json:"model" db:"model"`
	SystemPrompt  *string    `json:"system_prompt,omitempty" db:"system_prompt"`
	Status        string     `json:"status" db:"status"`
	MaxIterations int        `json:"max_iterations" db:"max_iterations"`
	Iterations    int        `json:"iterations" db:"iterations"`
	FinalReason   *string    `json:"final_reason,omitempty" db:"final_reason"`
	FinalSource   *string    `json:"final_source,omitempty" db:"final_source"`
	Response      *string    `json:"response,omitempty" db:"response"`
	Error         *string    `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Computed fields (not stored in the session row)
	History  []HistoryEntry `json:"history,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

// IsTerminal returns true once the session can no longer change
func (s *Session) IsTerminal() bool {
	return s.Status != SessionStatusRunning
}
