package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
	"cadence/internal/service/llm/continuation"
	"cadence/internal/service/llm/tools"
)

// scriptedRound is the canned response to one model call.
type scriptedRound struct {
	events []domainllm.StreamEvent
	err    error
}

// scriptedTransport replays scripted rounds in order and records requests.
type scriptedTransport struct {
	mu       sync.Mutex
	rounds   []scriptedRound
	requests []*domainllm.GenerateRequest
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if i >= len(s.rounds) {
		return nil, errors.New("unexpected model call")
	}
	round := s.rounds[i]
	if round.err != nil {
		return nil, round.err
	}

	ch := make(chan domainllm.StreamEvent, len(round.events))
	for _, ev := range round.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu       sync.Mutex
	deltas   []llm.DeltaEvent
	progress []llm.ProgressEvent
}

func (o *recordingObserver) OnDelta(ctx context.Context, e llm.DeltaEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deltas = append(o.deltas, e)
}

func (o *recordingObserver) OnProgress(ctx context.Context, e llm.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, e)
}

func events(fragments ...llm.Fragment) []domainllm.StreamEvent {
	out := make([]domainllm.StreamEvent, len(fragments))
	for i, f := range fragments {
		out[i] = domainllm.StreamEvent{Fragment: f}
	}
	return out
}

func textRound(text string) scriptedRound {
	return scriptedRound{events: events(llm.TextFragment(text), llm.EndFragment("end_turn"))}
}

func newTestLoop(t *testing.T, transport domainllm.ModelTransport, registry *tools.ToolRegistry, mutate func(*continuation.Config)) (*Loop, *recordingObserver) {
	t.Helper()
	cfg := continuation.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := continuation.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if registry == nil {
		registry = tools.NewToolRegistry()
	}
	observer := &recordingObserver{}
	loop := NewLoop(Config{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(registry, nil),
		Engine:     engine,
		Observer:   observer,
		Model:      "test-model",
	})
	return loop, observer
}

var userTurn = []llm.Turn{llm.NewUserTurn("Please do the thing")}

func TestLoop_SingleRoundTermination(t *testing.T) {
	transport := &scriptedTransport{rounds: []scriptedRound{textRound("All done, task complete")}}
	loop, observer := newTestLoop(t, transport, nil, nil)

	result, err := loop.Run(context.Background(), "s1", userTurn)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Decision.Status != llm.StatusTerminate || result.Decision.Source != llm.SourceHeuristic {
		t.Errorf("decision = %+v", result.Decision)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(result.Turns) != 2 || result.Turns[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected turns %+v", result.Turns)
	}
	if result.Response != "All done, task complete" {
		t.Errorf("response = %q", result.Response)
	}
	if len(observer.progress) != 1 {
		t.Errorf("expected 1 progress event, got %d", len(observer.progress))
	}
	if len(observer.deltas) != 2 {
		t.Errorf("expected 2 delta events, got %d", len(observer.deltas))
	}
}

func TestLoop_UnknownToolThenExplicitTermination(t *testing.T) {
	transport := &scriptedTransport{rounds: []scriptedRound{
		{events: events(
			llm.TextFragment("Let me check the inventory."),
			llm.ToolStartFragment(0, "toolu_1", "list_items"),
			llm.ToolArgsFragment(0, `{"limit": 5}`),
			llm.EndFragment("tool_use"),
		)},
		textRound(`The tool is unavailable, so I stopped. <continuation>{"status":"terminate","reason":"cannot proceed"}</continuation>`),
	}}
	loop, observer := newTestLoop(t, transport, nil, nil)

	result, err := loop.Run(context.Background(), "s1", userTurn)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// user, assistant, tool_result, decision context, assistant
	roles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleToolResult, llm.RoleUser, llm.RoleAssistant}
	if len(result.Turns) != len(roles) {
		t.Fatalf("expected %d turns, got %d", len(roles), len(result.Turns))
	}
	for i, role := range roles {
		if result.Turns[i].Role != role {
			t.Errorf("turn %d role = %s, want %s", i, result.Turns[i].Role, role)
		}
	}

	toolTurn := result.Turns[2]
	if len(toolTurn.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(toolTurn.ToolResults))
	}
	if toolTurn.ToolResults[0].Kind != llm.ResultToolNotFound || toolTurn.ToolResults[0].RequestID != "toolu_1" {
		t.Errorf("unexpected tool result %+v", toolTurn.ToolResults[0])
	}

	// The second model call saw the tool result
	second := transport.requests[1]
	if len(second.Turns) != 4 || second.Turns[2].Role != llm.RoleToolResult {
		t.Errorf("second request did not include tool results: %+v", second.Turns)
	}

	if result.Decision.Source != llm.SourceExplicit || result.Decision.Reason != "cannot proceed" {
		t.Errorf("decision = %+v", result.Decision)
	}
	if result.Response != "Let me check the inventory.\n\nThe tool is unavailable, so I stopped." {
		t.Errorf("response = %q", result.Response)
	}
	if len(observer.progress) != 2 {
		t.Fatalf("expected 2 progress events, got %d", len(observer.progress))
	}
	first := observer.progress[0]
	if first.Status != llm.StatusContinue || len(first.ActiveToolNames) != 1 || first.ActiveToolNames[0] != "list_items" {
		t.Errorf("unexpected first progress event %+v", first)
	}
	if first.Iteration != 1 || first.MaxIterations != 10 {
		t.Errorf("unexpected iteration counters %d/%d", first.Iteration, first.MaxIterations)
	}
}

func TestLoop_IterationLimit(t *testing.T) {
	signal := `<continuation>{"status":"continue"}</continuation>`
	transport := &scriptedTransport{rounds: []scriptedRound{textRound(signal), textRound(signal), textRound(signal)}}
	loop, observer := newTestLoop(t, transport, nil, func(c *continuation.Config) { c.MaxIterations = 2 })

	result, err := loop.Run(context.Background(), "s1", userTurn)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if transport.calls() != 2 {
		t.Errorf("expected 2 model calls, got %d", transport.calls())
	}
	if result.Decision.Reason != llm.ReasonSafetyLimit || !result.Decision.IsSafetyStop() {
		t.Errorf("decision = %+v", result.Decision)
	}
	if result.Iterations != 2 || len(result.History) != 2 {
		t.Errorf("iterations = %d, history = %d", result.Iterations, len(result.History))
	}
	// Two rounds plus the terminal notification
	if len(observer.progress) != 3 {
		t.Errorf("expected 3 progress events, got %d", len(observer.progress))
	}
}

func TestLoop_TransportFailure(t *testing.T) {
	tests := []struct {
		name   string
		round  scriptedRound
		reason string
	}{
		{
			name:   "stream refused",
			round:  scriptedRound{err: errors.New("401 unauthorized")},
			reason: "401 unauthorized",
		},
		{
			name: "error mid-stream",
			round: scriptedRound{events: []domainllm.StreamEvent{
				{Fragment: llm.TextFragment("partial")},
				{Err: errors.New("connection reset")},
			}},
			reason: "connection reset",
		},
		{
			name:   "stream without end marker",
			round:  scriptedRound{events: events(llm.TextFragment("partial"))},
			reason: ErrIncompleteStream.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{rounds: []scriptedRound{tt.round}}
			loop, observer := newTestLoop(t, transport, nil, nil)

			result, err := loop.Run(context.Background(), "s1", userTurn)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Decision.Source != llm.SourceTransport {
				t.Errorf("source = %s, want transport", result.Decision.Source)
			}
			if !strings.Contains(result.Decision.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to mention %q", result.Decision.Reason, tt.reason)
			}
			if len(result.Turns) != 1 {
				t.Errorf("failed round must not append turns, got %d", len(result.Turns))
			}
			if len(observer.progress) != 1 {
				t.Errorf("expected 1 progress event, got %d", len(observer.progress))
			}
		})
	}
}

func TestLoop_TimeoutLetsToolsFinish(t *testing.T) {
	var finished bool
	var mu sync.Mutex
	registry := tools.NewToolRegistry()
	registry.Register("slow", tools.ToolExecutorFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		time.Sleep(1200 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return "ok", nil
	}))

	transport := &scriptedTransport{rounds: []scriptedRound{
		{events: events(
			llm.TextFragment(`Working. <continuation>{"status":"continue"}</continuation>`),
			llm.ToolStartFragment(0, "toolu_1", "slow"),
			llm.EndFragment("tool_use"),
		)},
		textRound("should never be requested"),
	}}
	loop, _ := newTestLoop(t, transport, registry, func(c *continuation.Config) { c.TimeoutSeconds = 1 })

	result, err := loop.Run(context.Background(), "s1", userTurn)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("in-flight tool should have finished")
	}
	if transport.calls() != 1 {
		t.Errorf("expected no model call after the timeout, got %d calls", transport.calls())
	}
	if result.Decision.Reason != llm.ReasonSafetyLimit {
		t.Errorf("reason = %q, want safety limit", result.Decision.Reason)
	}
	if got := result.Turns[2].ToolResults[0].Kind; got != llm.ResultSuccess {
		t.Errorf("tool result kind = %s, want success", got)
	}
}

func TestLoop_Cancellation(t *testing.T) {
	transport := &scriptedTransport{rounds: []scriptedRound{{err: context.Canceled}}}
	loop, _ := newTestLoop(t, transport, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx, "s1", userTurn)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Decision.Status != llm.StatusTerminate {
		t.Errorf("status = %s, want terminate", result.Decision.Status)
	}
}

func TestLoop_EmptyConversation(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedTransport{}, nil, nil)
	if _, err := loop.Run(context.Background(), "s1", nil); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestAssembleResponse(t *testing.T) {
	turns := []llm.Turn{
		{Role: llm.RoleAssistant, Content: "First."},
		{Role: llm.RoleToolResult},
		{Role: llm.RoleAssistant, Content: `<continuation>{"status":"continue"}</continuation>`},
		{Role: llm.RoleAssistant, Content: "Second. <continuation>{\"status\":\"terminate\"}</continuation>"},
	}
	if got := assembleResponse(turns); got != "First.\n\nSecond." {
		t.Errorf("assembleResponse() = %q", got)
	}
}
