package continuation

import (
	"encoding/json"
	"regexp"
	"strings"

	"cadence/internal/domain/models/llm"
)

var (
	signalTagPattern   = regexp.MustCompile(`(?s)<continuation>\s*(.*?)\s*</continuation>`)
	signalFencePattern = regexp.MustCompile("(?s)```continuation[ \\t]*\\r?\\n(.*?)```")
)

// wireSignal is the JSON shape the model is asked to emit.
type wireSignal struct {
	Status     string          `json:"status"`
	Reason     string          `json:"reason"`
	Progress   *llm.Progress   `json:"progress"`
	NextAction *llm.NextAction `json:"next_action"`
}

// ParseSignal extracts a structured continuation signal from response text.
//
// The signal is a JSON object inside <continuation></continuation> tags or a
// ```continuation fenced block. When several are present the last well-formed
// one wins. Returns false when no well-formed signal exists.
func ParseSignal(text string) (*llm.ContinuationSignal, bool) {
	var best *llm.ContinuationSignal
	bestPos := -1
	for _, p := range []*regexp.Regexp{signalTagPattern, signalFencePattern} {
		for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
			sig, ok := decodeSignal(text[m[2]:m[3]])
			if !ok || m[0] < bestPos {
				continue
			}
			best, bestPos = sig, m[0]
		}
	}
	return best, best != nil
}

// StripSignal removes all signal markup from text.
func StripSignal(text string) string {
	text = signalTagPattern.ReplaceAllString(text, "")
	text = signalFencePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func decodeSignal(raw string) (*llm.ContinuationSignal, bool) {
	var w wireSignal
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &w); err != nil {
		return nil, false
	}

	var status llm.ContinuationStatus
	switch strings.ToLower(strings.TrimSpace(w.Status)) {
	case string(llm.StatusContinue):
		status = llm.StatusContinue
	case string(llm.StatusTerminate):
		status = llm.StatusTerminate
	default:
		return nil, false
	}

	sig := &llm.ContinuationSignal{
		Status:     status,
		Reason:     strings.TrimSpace(w.Reason),
		NextAction: w.NextAction,
	}
	if w.Progress != nil {
		p := w.Progress.Clone()
		if p.CompletionPercentage < 0 {
			p.CompletionPercentage = 0
		}
		if p.CompletionPercentage > 100 {
			p.CompletionPercentage = 100
		}
		sig.Progress = &p
	}
	return sig, true
}
