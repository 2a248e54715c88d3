package session

import (
	"sync"

	mstream "github.com/haowjy/meridian-stream-go"

	"cadence/internal/domain/models/llm"
)

// liveSession is the in-memory view of a running session.
type liveSession struct {
	mu      sync.Mutex
	session llm.Session
	initial []llm.Turn
	stream  *mstream.Stream

	interrupted bool
	done        chan struct{}
}

func newLiveSession(session llm.Session, initial []llm.Turn) *liveSession {
	return &liveSession{
		session: session,
		initial: initial,
		done:    make(chan struct{}),
	}
}

// applyProgress folds a progress event into the snapshot and returns the
// history entry for the round it reports. Events that report no new round
// (a limit hit before the next model call) return false.
func (l *liveSession) applyProgress(event llm.ProgressEvent) (llm.HistoryEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	progress := event.Progress.Clone()
	l.session.Progress = &progress

	if event.Iteration <= l.session.Iterations {
		return llm.HistoryEntry{}, false
	}
	l.session.Iterations = event.Iteration

	entry := llm.HistoryEntry{
		Iteration:     event.Iteration - 1,
		Timestamp:     event.Timestamp,
		Status:        event.Status,
		Source:        event.Source,
		ToolCallCount: len(event.ActiveToolNames),
		Reason:        event.Reason,
	}
	l.session.History = append(l.session.History, entry)
	return entry, true
}

func (l *liveSession) snapshot() *llm.Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.session
	s.History = append([]llm.HistoryEntry(nil), l.session.History...)
	if l.session.Progress != nil {
		p := l.session.Progress.Clone()
		s.Progress = &p
	}
	return &s
}

// markInterrupted records that the session was stopped on request, so it
// ends as cancelled rather than complete.
func (l *liveSession) markInterrupted() {
	l.mu.Lock()
	l.interrupted = true
	l.mu.Unlock()
}

func (l *liveSession) wasInterrupted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}
