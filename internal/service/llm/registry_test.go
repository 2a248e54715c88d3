package llm

import (
	"context"
	"testing"

	"cadence/internal/domain/models/llm"
	domainllm "cadence/internal/domain/services/llm"
)

type stubTransport struct {
	name      string
	lastModel string
}

func (s *stubTransport) Name() string { return s.name }

func (s *stubTransport) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	s.lastModel = req.Model
	ch := make(chan domainllm.StreamEvent, 1)
	ch <- domainllm.StreamEvent{Fragment: llm.EndFragment("end_turn")}
	close(ch)
	return ch, nil
}

func TestTransportRegistry_Stream(t *testing.T) {
	anthropic := &stubTransport{name: "anthropic"}
	lorem := &stubTransport{name: "lorem"}

	registry := NewTransportRegistry()
	registry.Register(anthropic)
	registry.Register(lorem)

	if got := registry.Providers(); len(got) != 2 || got[0] != "anthropic" || got[1] != "lorem" {
		t.Errorf("Providers() = %v", got)
	}

	req := &domainllm.GenerateRequest{Model: "anthropic/claude-haiku-4-5"}
	if _, err := registry.Stream(context.Background(), req); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if anthropic.lastModel != "claude-haiku-4-5" {
		t.Errorf("forwarded model = %q, want prefix stripped", anthropic.lastModel)
	}
	if req.Model != "anthropic/claude-haiku-4-5" {
		t.Error("Stream must not modify the caller's request")
	}

	if _, err := registry.Stream(context.Background(), &domainllm.GenerateRequest{Model: "lorem-fast"}); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if lorem.lastModel != "lorem-fast" {
		t.Errorf("lorem model = %q", lorem.lastModel)
	}
}

func TestTransportRegistry_Resolve(t *testing.T) {
	registry := NewTransportRegistry()
	registry.Register(&stubTransport{name: "lorem"})

	if _, err := registry.Resolve("lorem-fast"); err != nil {
		t.Errorf("Resolve(lorem-fast) error = %v", err)
	}
	if _, err := registry.Resolve("claude-haiku-4-5"); err == nil {
		t.Error("expected error for unconfigured provider")
	}
	if _, err := registry.Resolve("unknown-model"); err == nil {
		t.Error("expected error for unknown model")
	}
}
