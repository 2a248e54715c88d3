package llm

import (
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult:
		return true
	default:
		return false
	}
}

// Turn represents one exchange unit in a continuation session.
// A turn is immutable once appended to a Conversation.
type Turn struct {
	Role         Role                    `json:"role"`
	Content      string                  `json:"content"`
	ToolRequests []ToolInvocationRequest `json:"tool_requests,omitempty"`
	ToolResults  []ToolInvocationResult  `json:"tool_results,omitempty"`
	Iteration    int                     `json:"iteration"`
	CreatedAt    time.Time               `json:"created_at"`
}

// NewUserTurn creates a user turn with text content.
func NewUserTurn(content string) Turn {
	return Turn{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// HasToolRequests returns true if the assistant asked for tool executions in this turn
func (t Turn) HasToolRequests() bool {
	return len(t.ToolRequests) > 0
}

// clone copies the request and result slices so a stored turn cannot be
// changed through a slice the caller still holds.
func (t Turn) clone() Turn {
	if t.ToolRequests != nil {
		t.ToolRequests = append([]ToolInvocationRequest(nil), t.ToolRequests...)
	}
	if t.ToolResults != nil {
		t.ToolResults = append([]ToolInvocationResult(nil), t.ToolResults...)
	}
	return t
}
