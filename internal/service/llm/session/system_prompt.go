package session

import "strings"

// signalInstructions tells the model how to report whether it is done.
const signalInstructions = `You are working through a task over several rounds. After each response, end with a continuation signal:

<continuation>{"status": "continue" | "terminate", "reason": "...", "progress": {"current_step": 1, "total_steps": 3, "completion_percentage": 33, "steps_completed": ["..."], "steps_remaining": ["..."]}, "next_action": {"description": "...", "tool": "..."}}</continuation>

Use "continue" while steps remain or you are waiting on tool results. Use "terminate" once the task is complete or cannot be completed. Only "status" is required.`

// buildSystemPrompt combines the caller's system prompt with the signal
// protocol. When signals are optional the protocol is still advertised, since
// an explicit signal always outranks text heuristics.
func buildSystemPrompt(user *string) string {
	parts := make([]string, 0, 2)
	if user != nil && strings.TrimSpace(*user) != "" {
		parts = append(parts, strings.TrimSpace(*user))
	}
	parts = append(parts, signalInstructions)
	return strings.Join(parts, "\n\n")
}
