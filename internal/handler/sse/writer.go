package sse

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	mstream "github.com/haowjy/meridian-stream-go"
)

// SSEKeepAliveWriter serializes writes to one SSE connection. Events and
// keep-alive comments share a mutex because they are written from
// different goroutines.
type SSEKeepAliveWriter struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string
	clientID  string
}

// NewSSEKeepAliveWriter creates a new SSE keep-alive writer
func NewSSEKeepAliveWriter(
	w http.ResponseWriter,
	flusher http.Flusher,
	sessionID string,
	clientID string,
) *SSEKeepAliveWriter {
	return &SSEKeepAliveWriter{
		w:         w,
		flusher:   flusher,
		sessionID: sessionID,
		clientID:  clientID,
	}
}

// WriteKeepAlive writes an SSE comment (": keepalive") and flushes.
// Returns an error once the connection is gone.
func (s *SSEKeepAliveWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive for session %s (client %s): %w", s.sessionID, s.clientID, err)
	}
	s.flusher.Flush()

	// Zero-byte write surfaces closed connections
	if _, err := s.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}
	return nil
}

// WriteEvent writes one stream event as an SSE frame and flushes.
func (s *SSEKeepAliveWriter) WriteEvent(event mstream.Event) error {
	frame := FormatEvent(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return fmt.Errorf("write event for session %s (client %s): %w", s.sessionID, s.clientID, err)
	}
	s.flusher.Flush()
	return nil
}

// FormatEvent renders an event in SSE wire format:
//
//	id: 7
//	event: progress
//	data: {"session_id": "..."}
//
// The id and event lines are omitted when empty.
func FormatEvent(event mstream.Event) string {
	var b strings.Builder
	if event.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", event.ID)
	}
	if event.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", event.Type)
	}
	if event.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", event.Retry)
	}
	fmt.Fprintf(&b, "data: %s\n\n", event.Data)
	return b.String()
}
