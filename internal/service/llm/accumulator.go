package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cadence/internal/domain/models/llm"
)

var (
	// ErrAccumulatorFinalized is returned when fragments arrive after Finalize.
	ErrAccumulatorFinalized = errors.New("stream accumulator already finalized")
	// ErrFragmentAfterEnd is returned when a fragment follows the end marker.
	ErrFragmentAfterEnd = errors.New("fragment received after end of stream")
)

// StreamAccumulator reconstructs tool invocation requests from the fragments of
// one model turn.
//
// Flow:
//  1. Process each Fragment in arrival order
//  2. Tool fragments are folded into a builder keyed by their index
//  3. Text fragments are concatenated into the round's response text
//  4. Finalize returns one request per index seen, exactly once
//
// Thread-safety: NOT thread-safe. Used by the single goroutine driving a round.
type StreamAccumulator struct {
	builders map[int]*toolCallBuilder
	text     strings.Builder

	ended      bool
	stopReason string
	finalized  bool
}

// toolCallBuilder holds the in-progress state of one tool call.
type toolCallBuilder struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// NewStreamAccumulator creates an empty accumulator for one round.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		builders: make(map[int]*toolCallBuilder),
	}
}

// Process folds a single fragment into the accumulator state.
func (acc *StreamAccumulator) Process(f llm.Fragment) error {
	if acc.finalized {
		return ErrAccumulatorFinalized
	}
	if acc.ended {
		return ErrFragmentAfterEnd
	}

	switch f.Kind {
	case llm.FragmentText:
		acc.text.WriteString(f.Delta)

	case llm.FragmentToolStart, llm.FragmentToolArgs:
		b := acc.builder(f.Index)
		// The first id and name seen for an index win
		if b.id == "" && f.CallID != "" {
			b.id = f.CallID
		}
		if b.name == "" && f.ToolName != "" {
			b.name = f.ToolName
		}
		b.args.WriteString(f.Delta)

	case llm.FragmentEnd:
		acc.ended = true
		acc.stopReason = f.StopReason

	default:
		return fmt.Errorf("unknown fragment kind %q", f.Kind)
	}

	return nil
}

// Ended returns true once the end-of-stream marker has been processed.
func (acc *StreamAccumulator) Ended() bool {
	return acc.ended
}

// StopReason returns the stop reason carried by the end marker, if any.
func (acc *StreamAccumulator) StopReason() string {
	return acc.stopReason
}

// Text returns the assistant text accumulated so far.
func (acc *StreamAccumulator) Text() string {
	return acc.text.String()
}

// PendingToolNames returns the names of tool calls seen so far, ordered by index.
func (acc *StreamAccumulator) PendingToolNames() []string {
	names := make([]string, 0, len(acc.builders))
	for _, idx := range acc.sortedIndices() {
		names = append(names, acc.builders[idx].name)
	}
	return names
}

// Finalize returns the completed requests ordered by index. It can only be called once.
//
// A request whose argument text is not a JSON object is still returned, with
// ArgumentError set and an empty argument map.
func (acc *StreamAccumulator) Finalize() ([]llm.ToolInvocationRequest, error) {
	if acc.finalized {
		return nil, ErrAccumulatorFinalized
	}
	acc.finalized = true

	if len(acc.builders) == 0 {
		return nil, nil
	}

	requests := make([]llm.ToolInvocationRequest, 0, len(acc.builders))
	for _, idx := range acc.sortedIndices() {
		requests = append(requests, acc.builders[idx].build())
	}
	return requests, nil
}

func (acc *StreamAccumulator) builder(index int) *toolCallBuilder {
	b, ok := acc.builders[index]
	if !ok {
		b = &toolCallBuilder{index: index}
		acc.builders[index] = b
	}
	return b
}

func (acc *StreamAccumulator) sortedIndices() []int {
	indices := make([]int, 0, len(acc.builders))
	for idx := range acc.builders {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// build parses the accumulated argument text into a request.
func (b *toolCallBuilder) build() llm.ToolInvocationRequest {
	req := llm.ToolInvocationRequest{
		ID:           b.id,
		Index:        b.index,
		Name:         b.name,
		RawArguments: b.args.String(),
		Arguments:    map[string]interface{}{},
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("call_%d", b.index)
	}

	raw := strings.TrimSpace(req.RawArguments)
	if raw == "" {
		return req
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		req.ArgumentError = fmt.Sprintf("failed to parse arguments for tool %q: %v", b.name, err)
		return req
	}
	if args == nil {
		// JSON null
		req.ArgumentError = fmt.Sprintf("arguments for tool %q must be a JSON object", b.name)
		return req
	}
	req.Arguments = args
	return req
}
