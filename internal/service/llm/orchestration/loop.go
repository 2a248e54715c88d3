package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
	servicellm "cadence/internal/service/llm"
	"cadence/internal/service/llm/continuation"
	"cadence/internal/service/llm/tools"
)

var (
	// ErrEmptyConversation is returned when Run is given no turns to start from.
	ErrEmptyConversation = errors.New("conversation has no turns")
	// ErrIncompleteStream is the round failure for a stream that closed without an end marker.
	ErrIncompleteStream = errors.New("model stream closed before end of turn")
)

// Config wires a Loop to its collaborators.
type Config struct {
	Transport  domainllm.ModelTransport
	Dispatcher *tools.Dispatcher
	Engine     *continuation.Engine
	Observer   domainllm.ProgressObserver // Optional, defaults to NopObserver
	Logger     *slog.Logger

	Model        string
	SystemPrompt string
	Tools        []llm.ToolDefinition
	MaxTokens    int
}

// Loop drives the rounds of one continuation session: model call, stream
// accumulation, tool dispatch, continuation decision.
//
// Rounds are strictly sequential. A Loop holds no per-session state, so the
// same Loop may run several sessions concurrently.
type Loop struct {
	cfg Config
	now func() time.Time
}

// Result is what a finished session hands back to its caller.
type Result struct {
	SessionID  string             `json:"session_id"`
	Response   string             `json:"response"`
	Turns      []llm.Turn         `json:"turns"`
	Decision   llm.Decision       `json:"decision"`
	Progress   llm.Progress       `json:"progress"`
	Iterations int                `json:"iterations"`
	History    []llm.HistoryEntry `json:"history"`
}

// NewLoop creates a loop from its collaborators.
func NewLoop(cfg Config) *Loop {
	if cfg.Observer == nil {
		cfg.Observer = domainllm.NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{cfg: cfg, now: time.Now}
}

// Run executes a continuation session starting from the given turns and
// returns once the engine decides to terminate.
//
// Run only returns an error for unusable input. Model failures, tool failures
// and cancellation of ctx all end the session with a TERMINATE decision whose
// reason says what happened.
func (l *Loop) Run(ctx context.Context, sessionID string, initial []llm.Turn) (*Result, error) {
	if len(initial) == 0 {
		return nil, ErrEmptyConversation
	}

	engine := l.cfg.Engine
	state := engine.NewState(sessionID)
	conv := llm.NewConversation(initial...)
	deadline := engine.Deadline(state)
	maxIterations := engine.Config().MaxIterations

	l.cfg.Logger.Info("continuation session started",
		"session_id", sessionID,
		"model", l.cfg.Model,
		"max_iterations", maxIterations,
		"timeout", engine.Config().Timeout(),
	)

	var decision llm.Decision
	for iteration := 0; ; iteration++ {
		// No model call once a limit has been reached
		if d, limited := engine.CheckSafety(state); limited {
			decision = d
			l.emitProgress(ctx, state, d, maxIterations, nil)
			break
		}

		round := l.runRound(ctx, sessionID, iteration, conv, deadline)
		decision = engine.Evaluate(round, state)
		l.emitProgress(ctx, state, decision, maxIterations, toolNames(round.ToolRequests))

		if !decision.ShouldContinue() {
			break
		}
		conv.Append(decisionContextTurn(decision, iteration, maxIterations, l.now()))
	}

	turns := conv.Turns()
	result := &Result{
		SessionID:  sessionID,
		Response:   assembleResponse(turns[len(initial):]),
		Turns:      turns,
		Decision:   decision,
		Progress:   state.Progress(),
		Iterations: state.IterationCount(),
		History:    state.History(),
	}

	l.cfg.Logger.Info("continuation session finished",
		"session_id", sessionID,
		"iterations", result.Iterations,
		"source", decision.Source,
		"reason", decision.Reason,
	)
	return result, nil
}

// runRound performs one model call plus tool dispatch and appends the
// resulting turns to conv. A failed model call appends nothing.
func (l *Loop) runRound(ctx context.Context, sessionID string, iteration int, conv *llm.Conversation, deadline time.Time) continuation.RoundResult {
	round := continuation.RoundResult{Iteration: iteration}

	// The model call is bounded by the session deadline; tools below are not
	modelCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	stream, err := l.cfg.Transport.Stream(modelCtx, &domainllm.GenerateRequest{
		Model:        l.cfg.Model,
		SystemPrompt: l.cfg.SystemPrompt,
		Turns:        conv.Turns(),
		Tools:        l.cfg.Tools,
		MaxTokens:    l.cfg.MaxTokens,
	})
	if err != nil {
		round.TransportErr = err
		l.logRoundFailure(sessionID, iteration, err)
		return round
	}

	acc := servicellm.NewStreamAccumulator()
	for ev := range stream {
		if ev.Err != nil {
			round.TransportErr = ev.Err
			break
		}
		if err := acc.Process(ev.Fragment); err != nil {
			round.TransportErr = fmt.Errorf("malformed model stream: %w", err)
			break
		}
		l.cfg.Observer.OnDelta(ctx, llm.DeltaEvent{
			SessionID: sessionID,
			Iteration: iteration,
			Fragment:  ev.Fragment,
		})
		if acc.Ended() {
			break
		}
	}
	if round.TransportErr == nil && !acc.Ended() {
		round.TransportErr = ErrIncompleteStream
	}
	if round.TransportErr != nil {
		l.logRoundFailure(sessionID, iteration, round.TransportErr)
		return round
	}

	requests, err := acc.Finalize()
	if err != nil {
		round.TransportErr = err
		return round
	}
	round.Text = acc.Text()
	round.ToolRequests = requests

	conv.Append(llm.Turn{
		Role:         llm.RoleAssistant,
		Content:      round.Text,
		ToolRequests: requests,
		Iteration:    iteration,
		CreatedAt:    l.now(),
	})

	if len(requests) == 0 {
		return round
	}

	l.cfg.Logger.Debug("dispatching tools",
		"session_id", sessionID,
		"iteration", iteration,
		"tools", toolNames(requests),
	)
	round.ToolResults = l.cfg.Dispatcher.Dispatch(ctx, requests, tools.DispatchOptions{Deadline: deadline})

	conv.Append(llm.Turn{
		Role:        llm.RoleToolResult,
		ToolResults: round.ToolResults,
		Iteration:   iteration,
		CreatedAt:   l.now(),
	})
	return round
}

func (l *Loop) emitProgress(ctx context.Context, state *continuation.State, d llm.Decision, maxIterations int, active []string) {
	if active == nil {
		active = []string{}
	}
	l.cfg.Observer.OnProgress(ctx, llm.ProgressEvent{
		SessionID:       state.SessionID,
		Iteration:       state.IterationCount(),
		MaxIterations:   maxIterations,
		Status:          d.Status,
		Reason:          d.Reason,
		Source:          d.Source,
		Progress:        d.Progress,
		ActiveToolNames: active,
		Timestamp:       l.now(),
	})
}

func (l *Loop) logRoundFailure(sessionID string, iteration int, err error) {
	l.cfg.Logger.Warn("model call failed",
		"session_id", sessionID,
		"iteration", iteration,
		"error", err,
	)
}

// decisionContextTurn tells the model where it stands before the next round.
func decisionContextTurn(d llm.Decision, iteration, maxIterations int, now time.Time) llm.Turn {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of at most %d is complete. Continue with the next step.", iteration+1, maxIterations)
	if d.Progress.TotalSteps > 0 {
		fmt.Fprintf(&b, " Progress: step %d of %d.", d.Progress.CurrentStep, d.Progress.TotalSteps)
	}
	if len(d.Progress.StepsRemaining) > 0 {
		fmt.Fprintf(&b, " Remaining: %s.", strings.Join(d.Progress.StepsRemaining, "; "))
	}
	if d.NextAction != nil && d.NextAction.Description != "" {
		fmt.Fprintf(&b, " Suggested next action: %s.", d.NextAction.Description)
	}

	return llm.Turn{
		Role:      llm.RoleUser,
		Content:   b.String(),
		Iteration: iteration,
		CreatedAt: now,
	}
}

// assembleResponse joins the assistant text of the session with signal markup removed.
func assembleResponse(turns []llm.Turn) string {
	var parts []string
	for _, t := range turns {
		if t.Role != llm.RoleAssistant {
			continue
		}
		if text := continuation.StripSignal(t.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolNames(requests []llm.ToolInvocationRequest) []string {
	names := make([]string, len(requests))
	for i, r := range requests {
		names[i] = r.Name
	}
	return names
}
