package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

// Stream implements domainllm.ModelTransport.
// Text deltas become FragmentText, tool_use blocks become FragmentToolStart
// followed by FragmentToolArgs deltas. The stream ends with FragmentEnd
// carrying the provider stop reason, or with a single error event.
func (p *Provider) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	params, err := buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan domainllm.StreamEvent, 16)

	go func() {
		defer close(eventChan)

		send := func(ev domainllm.StreamEvent) bool {
			select {
			case eventChan <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		// Provider block indices count text blocks too; fragments use a
		// per-round tool index.
		toolIndex := make(map[int64]int)

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(domainllm.StreamEvent{Err: fmt.Errorf("failed to accumulate message: %w", err)})
				return
			}

			fragment, ok := toFragment(event, toolIndex)
			if !ok {
				continue
			}
			if !send(domainllm.StreamEvent{Fragment: fragment}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			p.logger.Warn("stream failed", "model", req.Model, "error", err)
			send(domainllm.StreamEvent{Err: fmt.Errorf("anthropic streaming error: %w", err)})
			return
		}

		p.logger.Debug("stream complete",
			"model", req.Model,
			"stop_reason", message.StopReason,
			"input_tokens", message.Usage.InputTokens,
			"output_tokens", message.Usage.OutputTokens,
			"tool_calls", len(toolIndex),
		)
		send(domainllm.StreamEvent{Fragment: llm.EndFragment(string(message.StopReason))})
	}()

	return eventChan, nil
}

// toFragment maps one provider stream event to a fragment.
// Events that carry nothing for the caller (message start, block stop,
// thinking deltas) report ok=false.
func toFragment(event anthropic.MessageStreamEventUnion, toolIndex map[int64]int) (llm.Fragment, bool) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			return llm.Fragment{}, false
		}
		idx := len(toolIndex)
		toolIndex[variant.Index] = idx
		return llm.ToolStartFragment(idx, block.ID, block.Name), true

	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text == "" {
				return llm.Fragment{}, false
			}
			return llm.TextFragment(delta.Text), true
		case anthropic.InputJSONDelta:
			idx, ok := toolIndex[variant.Index]
			if !ok || delta.PartialJSON == "" {
				return llm.Fragment{}, false
			}
			return llm.ToolArgsFragment(idx, delta.PartialJSON), true
		}
	}
	return llm.Fragment{}, false
}
