package llm

// FragmentKind identifies what a streamed fragment carries
type FragmentKind string

const (
	FragmentText      FragmentKind = "text_delta"       // Assistant text content
	FragmentToolStart FragmentKind = "tool_call_start"  // Tool call initiated (index, id, name)
	FragmentToolArgs  FragmentKind = "input_json_delta" // Incremental tool argument text
	FragmentEnd       FragmentKind = "end"              // End of the model's turn
)

// Fragment is one ordered piece of a streamed model response.
// This is an ephemeral model: fragments are accumulated into
// ToolInvocationRequests in memory and relayed to observers, never persisted.
//
// Fragment flow:
//  1. The model transport maps provider stream events to Fragments
//  2. The orchestration loop forwards each Fragment to the observer
//  3. StreamAccumulator folds tool fragments by Index
//  4. The FragmentEnd marker lets the loop finalize the round
type Fragment struct {
	Kind FragmentKind `json:"kind"`

	// Index is the per-round tool call index (tool fragments only)
	Index int `json:"index"`

	// CallID is the provider's tool call identifier, usually only on FragmentToolStart
	CallID string `json:"call_id,omitempty"`

	// ToolName may arrive only on the first fragment for an index
	ToolName string `json:"tool_name,omitempty"`

	// Delta is appended text: assistant text or argument JSON depending on Kind
	Delta string `json:"delta,omitempty"`

	// StopReason is set on FragmentEnd when the provider reports one
	StopReason string `json:"stop_reason,omitempty"`
}

// TextFragment creates an assistant text fragment
func TextFragment(text string) Fragment {
	return Fragment{Kind: FragmentText, Delta: text}
}

// ToolStartFragment creates the fragment that opens a tool call
func ToolStartFragment(index int, callID, name string) Fragment {
	return Fragment{Kind: FragmentToolStart, Index: index, CallID: callID, ToolName: name}
}

// ToolArgsFragment creates an argument-text delta for a tool call
func ToolArgsFragment(index int, delta string) Fragment {
	return Fragment{Kind: FragmentToolArgs, Index: index, Delta: delta}
}

// EndFragment creates the end-of-stream marker
func EndFragment(stopReason string) Fragment {
	return Fragment{Kind: FragmentEnd, StopReason: stopReason}
}

// IsToolFragment returns true if the fragment belongs to a tool call
func (f Fragment) IsToolFragment() bool {
	return f.Kind == FragmentToolStart || f.Kind == FragmentToolArgs
}

// IsEnd returns true if this fragment terminates the stream
func (f Fragment) IsEnd() bool {
	return f.Kind == FragmentEnd
}
