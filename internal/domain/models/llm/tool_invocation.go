package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolInvocationRequest is a complete tool call reconstructed from stream fragments.
// It is finalized once per round by the accumulator and never mutated afterwards.
type ToolInvocationRequest struct {
	ID        string                 `json:"id"`
	Index     int                    `json:"index"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`

	// RawArguments holds the concatenated argument text as streamed
	RawArguments string `json:"raw_arguments,omitempty"`

	// ArgumentError is set when RawArguments did not parse as a JSON object
	ArgumentError string `json:"argument_error,omitempty"`
}

// HasArgumentError returns true if the arguments failed to parse
func (r ToolInvocationRequest) HasArgumentError() bool {
	return r.ArgumentError != ""
}

// ResultKind classifies the outcome of one tool invocation
type ResultKind string

const (
	ResultSuccess          ResultKind = "success"
	ResultToolNotFound     ResultKind = "tool_not_found"
	ResultInvalidArguments ResultKind = "invalid_arguments"
	ResultExecutionFailed  ResultKind = "execution_failed"
	ResultNotStarted       ResultKind = "not_started"
)

// ToolInvocationResult is the outcome of executing one ToolInvocationRequest.
// RequestID pairs it with its request; position in a result list is not significant.
type ToolInvocationResult struct {
	RequestID string        `json:"request_id"`
	ToolName  string        `json:"tool_name"`
	Kind      ResultKind    `json:"kind"`
	Output    interface{}   `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// IsError returns true for every outcome other than success
func (r ToolInvocationResult) IsError() bool {
	return r.Kind != ResultSuccess
}

// Content renders the result as the text the model sees in its next request.
func (r ToolInvocationResult) Content() string {
	if r.IsError() {
		return r.Error
	}

	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
