package continuation

import (
	"fmt"
	"regexp"

	"cadence/internal/domain/models/llm"
)

// Detection is the tagged result of looking for continuation intent in a
// response. Explicit parsing and the heuristic classifier both produce it, so
// callers never inspect raw text themselves.
type Detection struct {
	Status llm.ContinuationStatus
	Source llm.DetectionSource
	Reason string

	// Signal is set only when Source is SourceExplicit
	Signal *llm.ContinuationSignal
	// Pattern is the matching expression when Source is SourceHeuristic
	Pattern string
}

type namedPattern struct {
	source string
	re     *regexp.Regexp
}

// Classifier infers continue/terminate intent from unstructured text.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	termination  []namedPattern
	continuation []namedPattern
}

// NewClassifier compiles the pattern lists as case-insensitive expressions.
func NewClassifier(termination, continuation []string) (*Classifier, error) {
	c := &Classifier{}
	var err error
	if c.termination, err = compileAll(termination); err != nil {
		return nil, fmt.Errorf("termination patterns: %w", err)
	}
	if c.continuation, err = compileAll(continuation); err != nil {
		return nil, fmt.Errorf("continuation patterns: %w", err)
	}
	return c, nil
}

// Classify checks termination patterns first, then continuation patterns.
// A response matching both is treated as finished, and one matching neither
// defaults to TERMINATE.
func (c *Classifier) Classify(text string) Detection {
	for _, p := range c.termination {
		if p.re.MatchString(text) {
			return Detection{
				Status:  llm.StatusTerminate,
				Source:  llm.SourceHeuristic,
				Reason:  fmt.Sprintf("matched termination pattern %q", p.source),
				Pattern: p.source,
			}
		}
	}
	for _, p := range c.continuation {
		if p.re.MatchString(text) {
			return Detection{
				Status:  llm.StatusContinue,
				Source:  llm.SourceHeuristic,
				Reason:  fmt.Sprintf("matched continuation pattern %q", p.source),
				Pattern: p.source,
			}
		}
	}
	return Detection{
		Status: llm.StatusTerminate,
		Source: llm.SourceDefault,
		Reason: "no continuation intent detected",
	}
}

// Detect parses an explicit signal first and falls back to the classifier
// unless requireExplicit is set.
func Detect(text string, requireExplicit bool, classifier *Classifier) Detection {
	if sig, ok := ParseSignal(text); ok {
		reason := sig.Reason
		if reason == "" {
			reason = "model reported status " + string(sig.Status)
		}
		return Detection{
			Status: sig.Status,
			Source: llm.SourceExplicit,
			Reason: reason,
			Signal: sig,
		}
	}

	if requireExplicit || classifier == nil {
		return Detection{
			Status: llm.StatusTerminate,
			Source: llm.SourceDefault,
			Reason: "no explicit continuation signal",
		}
	}
	return classifier.Classify(text)
}

func compileAll(patterns []string) ([]namedPattern, error) {
	out := make([]namedPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, namedPattern{source: p, re: re})
	}
	return out, nil
}
