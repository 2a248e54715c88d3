package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

// plannedSteps is the number of rounds a lorem session plays out.
const plannedSteps = 2

// Provider is a mock model transport that generates lorem ipsum text.
// Used for development and tests without requiring real API keys.
//
// A lorem session runs two rounds. The first round calls one advertised
// tool (current_time when available) and signals continue; the second
// signals terminate. Models containing "silent" never emit a signal, so
// the text classifier decides instead.
type Provider struct {
	// golorem keeps an unsynchronized rand source; mu serializes its use
	// across concurrent Stream calls.
	mu        sync.Mutex
	generator *loremgen.Lorem
	delay     func(model string) time.Duration
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
		delay:     getStreamDelay,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-silent"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second (500ms per word)
// - lorem-fast: 30 words/second (33ms per word)
// - default: 10 words/second
func getStreamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// Stream implements domainllm.ModelTransport.
func (p *Provider) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	step := completedRounds(req.Turns) + 1
	maxWords := req.MaxTokens
	if maxWords <= 0 || maxWords > 40 {
		maxWords = 40
	}
	text := p.generateTextWords(maxWords)

	var tool *llm.ToolDefinition
	if step == 1 {
		tool = pickTool(req.Tools)
	}

	eventChan := make(chan domainllm.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		delay := p.delay(req.Model)
		send := func(f llm.Fragment) bool {
			select {
			case eventChan <- domainllm.StreamEvent{Fragment: f}:
			case <-ctx.Done():
				return false
			}
			if delay <= 0 {
				return true
			}
			select {
			case <-time.After(delay):
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func() {
			select {
			case eventChan <- domainllm.StreamEvent{Err: ctx.Err()}:
			default:
			}
		}

		for _, word := range strings.Fields(text) {
			if !send(llm.TextFragment(word + " ")) {
				fail()
				return
			}
		}

		if tool != nil {
			args, _ := json.Marshal(map[string]interface{}{})
			if !send(llm.ToolStartFragment(0, fmt.Sprintf("lorem_%d", time.Now().UnixNano()), tool.Name)) ||
				!send(llm.ToolArgsFragment(0, string(args))) {
				fail()
				return
			}
		}

		if !strings.Contains(req.Model, "silent") {
			if !send(llm.TextFragment("\n\n" + signalText(step, tool))) {
				fail()
				return
			}
		}

		stopReason := "end_turn"
		if tool != nil {
			stopReason = "tool_use"
		}
		send(llm.EndFragment(stopReason))
	}()

	return eventChan, nil
}

// completedRounds counts assistant turns already in the conversation.
func completedRounds(turns []llm.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == llm.RoleAssistant {
			n++
		}
	}
	return n
}

func pickTool(defs []llm.ToolDefinition) *llm.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	for i := range defs {
		if defs[i].Name == "current_time" {
			return &defs[i]
		}
	}
	return &defs[0]
}

// signalText renders the continuation signal for a round.
func signalText(step int, tool *llm.ToolDefinition) string {
	signal := map[string]interface{}{
		"status": "terminate",
		"reason": "lorem response complete",
		"progress": map[string]interface{}{
			"current_step":          step,
			"total_steps":           plannedSteps,
			"completion_percentage": 100,
		},
	}
	if step < plannedSteps {
		next := map[string]interface{}{"description": "summarize results"}
		if tool != nil {
			next["tool"] = tool.Name
		}
		signal["status"] = "continue"
		signal["reason"] = "waiting for tool output"
		signal["progress"] = map[string]interface{}{
			"current_step":          step,
			"total_steps":           plannedSteps,
			"completion_percentage": float64(step) / plannedSteps * 100,
		}
		signal["next_action"] = next
	}
	data, _ := json.Marshal(signal)
	return "<continuation>" + string(data) + "</continuation>"
}

// generateTextWords generates lorem ipsum text with approximately targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	wordCount := 0

	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}

	return strings.TrimSpace(sb.String())
}
