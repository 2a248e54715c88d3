// Package streaming carries session events over meridian-stream-go. Each
// running session owns one mstream.Stream keyed by its session ID; the
// orchestration loop's progress reaches it through Observer, and clients
// that attach late are primed by the catchup function built from the
// session store.
package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	mstream "github.com/haowjy/meridian-stream-go"
)

// NewEvent encodes data as the JSON payload of an event of the given type.
func NewEvent(eventType string, data interface{}) (mstream.Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return mstream.Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return mstream.NewEvent(jsonData).WithType(eventType), nil
}

// Send encodes and sends an event. Encoding failures are logged and the
// event is dropped.
func Send(send func(mstream.Event), logger *slog.Logger, eventType string, data interface{}) {
	event, err := NewEvent(eventType, data)
	if err != nil {
		logger.Error("failed to encode stream event", "event_type", eventType, "error", err)
		return
	}
	send(event)
}

// Decode unmarshals an event payload into v.
func Decode(event mstream.Event, v interface{}) error {
	if err := json.Unmarshal(event.Data, v); err != nil {
		return fmt.Errorf("decode %s event: %w", event.Type, err)
	}
	return nil
}

// Sequence returns the numeric ID the stream assigned to a live event, or 0
// for events without one (catchup events built from the store).
func Sequence(event mstream.Event) int64 {
	n, err := strconv.ParseInt(event.ID, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
