package continuation

import (
	"fmt"
	"log/slog"
	"time"

	"cadence/internal/domain/models/llm"
)

// RoundResult is everything the engine needs to know about one finished round.
type RoundResult struct {
	// Iteration is the zero-based index of the round within its session
	Iteration    int
	Text         string
	ToolRequests []llm.ToolInvocationRequest
	ToolResults  []llm.ToolInvocationResult

	// TransportErr is set when the model call failed and the round was aborted
	TransportErr error
}

// Engine decides after every round whether a session continues.
//
// Precedence, first match wins:
//  1. Safety limits (iterations, wall clock)
//  2. Transport failure of the round
//  3. Explicit signal in the response
//  4. Heuristic classification, unless an explicit signal is required
//  5. TERMINATE
//
// An Engine is immutable after construction and may be shared by sessions
// that use the same Config; all mutable bookkeeping lives in State.
type Engine struct {
	cfg        Config
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine validates cfg and compiles its patterns.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(cfg.TerminationPatterns, cfg.ContinuationPatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// NewState starts the bookkeeping (and the wall clock) for a session.
func (e *Engine) NewState(sessionID string) *State {
	return &State{
		SessionID: sessionID,
		StartedAt: e.now(),
	}
}

// Deadline returns the wall-clock deadline of the session.
func (e *Engine) Deadline(state *State) time.Time {
	return state.Deadline(e.cfg.Timeout())
}

// CheckSafety reports whether a safety limit has been reached. When it has,
// the state is moved to TERMINATED and the forced decision is returned.
// Callers run it before starting a new round so no model call is issued past
// a limit.
func (e *Engine) CheckSafety(state *State) (llm.Decision, bool) {
	if d, ok := state.TerminalDecision(); ok {
		return d, true
	}
	d, limited := e.safetyDecision(state, e.now())
	if !limited {
		return llm.Decision{}, false
	}
	d.Iteration = state.IterationCount()
	d.Progress = state.Progress()
	state.terminal = &d

	e.logger.Info("continuation stopped by safety limit",
		"session_id", state.SessionID,
		"iterations", state.IterationCount(),
		"elapsed", e.now().Sub(state.StartedAt),
	)
	return d, true
}

// Evaluate decides whether the session continues after round and records the
// round in state.
//
// Evaluating a round that has already been recorded returns the recorded
// decision and changes nothing. After the session has terminated, new rounds
// get the terminal decision back unrecorded.
func (e *Engine) Evaluate(round RoundResult, state *State) llm.Decision {
	if round.Iteration >= 0 && round.Iteration < len(state.decisions) {
		return state.decisions[round.Iteration]
	}
	if d, ok := state.TerminalDecision(); ok {
		return d
	}

	now := e.now()
	var signal *llm.ContinuationSignal

	decision, limited := e.safetyDecision(state, now)
	switch {
	case limited:
	case round.TransportErr != nil:
		decision = llm.Decision{
			Status: llm.StatusTerminate,
			Source: llm.SourceTransport,
			Reason: fmt.Sprintf("transport failure: %v", round.TransportErr),
		}
	default:
		det := Detect(round.Text, e.cfg.RequireExplicitSignal, e.classifier)
		signal = det.Signal
		decision = llm.Decision{
			Status: det.Status,
			Source: det.Source,
			Reason: det.Reason,
		}
	}

	state.progress = e.nextProgress(state, signal)
	decision.Iteration = state.IterationCount()
	decision.Progress = state.Progress()
	decision.NextAction = ExtractNextAction(round, signal)

	state.record(llm.HistoryEntry{
		Iteration:     decision.Iteration,
		Timestamp:     now,
		Status:        decision.Status,
		Source:        decision.Source,
		ToolCallCount: len(round.ToolRequests),
		Reason:        decision.Reason,
	}, decision)

	e.logger.Debug("continuation evaluated",
		"session_id", state.SessionID,
		"iteration", decision.Iteration,
		"status", decision.Status,
		"source", decision.Source,
		"reason", decision.Reason,
		"tool_calls", len(round.ToolRequests),
	)

	return decision
}

// ExtractNextAction returns the model's suggested next action when the signal
// carries one; otherwise the round's tool requests are the implied next action.
func ExtractNextAction(round RoundResult, signal *llm.ContinuationSignal) *llm.NextAction {
	if signal != nil && signal.NextAction != nil {
		next := *signal.NextAction
		return &next
	}
	if len(round.ToolRequests) == 0 {
		return nil
	}

	names := make([]string, len(round.ToolRequests))
	for i, req := range round.ToolRequests {
		names[i] = req.Name
	}
	return &llm.NextAction{
		Description:  "review the results of the pending tool calls",
		PendingTools: names,
	}
}

// safetyDecision checks the iteration and wall-clock limits.
func (e *Engine) safetyDecision(state *State, now time.Time) (llm.Decision, bool) {
	var detail string
	switch {
	case state.IterationCount() >= e.cfg.MaxIterations:
		detail = fmt.Sprintf("max iterations (%d)", e.cfg.MaxIterations)
	case now.Sub(state.StartedAt) >= e.cfg.Timeout():
		detail = fmt.Sprintf("timeout (%ds)", e.cfg.TimeoutSeconds)
	default:
		return llm.Decision{}, false
	}

	e.logger.Debug("safety limit reached",
		"session_id", state.SessionID,
		"limit", detail,
	)
	return llm.Decision{
		Status: llm.StatusTerminate,
		Source: llm.SourceSafety,
		Reason: llm.ReasonSafetyLimit,
	}, true
}

// nextProgress takes the signal's progress verbatim when present and otherwise
// advances the previous snapshot by one step.
func (e *Engine) nextProgress(state *State, signal *llm.ContinuationSignal) llm.Progress {
	if signal != nil && signal.Progress != nil {
		return signal.Progress.Clone()
	}

	p := state.Progress()
	p.CurrentStep = state.IterationCount() + 1
	if p.TotalSteps > 0 {
		pct := float64(p.CurrentStep) / float64(p.TotalSteps) * 100
		if pct > 100 {
			pct = 100
		}
		p.CompletionPercentage = pct
	}
	return p
}
