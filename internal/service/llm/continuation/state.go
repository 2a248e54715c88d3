package continuation

import (
	"time"

	"cadence/internal/domain/models/llm"
)

// State is the continuation bookkeeping of one session. It is owned by a
// single orchestration loop and is not safe for concurrent use.
//
// History and decisions are append-only; entry i belongs to iteration i.
type State struct {
	SessionID string
	StartedAt time.Time

	history   []llm.HistoryEntry
	decisions []llm.Decision
	progress  llm.Progress
	terminal  *llm.Decision
}

// IterationCount returns the number of rounds evaluated so far.
func (s *State) IterationCount() int {
	return len(s.decisions)
}

// History returns a copy of the per-round history.
func (s *State) History() []llm.HistoryEntry {
	return append([]llm.HistoryEntry(nil), s.history...)
}

// Progress returns the most recent progress snapshot.
func (s *State) Progress() llm.Progress {
	return s.progress.Clone()
}

// Terminated returns true once a TERMINATE decision has been reached.
func (s *State) Terminated() bool {
	return s.terminal != nil
}

// TerminalDecision returns the decision that ended the session, if any.
func (s *State) TerminalDecision() (llm.Decision, bool) {
	if s.terminal == nil {
		return llm.Decision{}, false
	}
	return *s.terminal, true
}

// Deadline returns the instant the session's wall-clock limit expires.
func (s *State) Deadline(timeout time.Duration) time.Time {
	return s.StartedAt.Add(timeout)
}

func (s *State) record(entry llm.HistoryEntry, decision llm.Decision) {
	s.history = append(s.history, entry)
	s.decisions = append(s.decisions, decision)
	if decision.Status == llm.StatusTerminate {
		d := decision
		s.terminal = &d
	}
}
