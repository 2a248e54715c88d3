package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domainllm "cadence/internal/domain/services/llm"
)

// TransportRegistry routes model calls to the transport registered for the
// model's provider. It implements domainllm.ModelTransport itself, so the
// orchestration loop never needs to know which provider serves a session.
type TransportRegistry struct {
	transports map[string]domainllm.ModelTransport
	mu         sync.RWMutex
}

// NewTransportRegistry creates an empty registry.
func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{
		transports: make(map[string]domainllm.ModelTransport),
	}
}

// Register adds a transport under its Name(). A later registration with the
// same name replaces the earlier one.
func (r *TransportRegistry) Register(t domainllm.ModelTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// Get returns the transport registered for provider.
func (r *TransportRegistry) Get(provider string) (domainllm.ModelTransport, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transports[provider]
	if !ok {
		return nil, fmt.Errorf("provider '%s' is not configured", provider)
	}
	return t, nil
}

// Resolve checks that a model string maps to a configured transport.
// Used to reject unknown models before a session starts.
func (r *TransportRegistry) Resolve(model string) (*ModelInfo, error) {
	info, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	if _, err := r.Get(info.Provider); err != nil {
		return nil, err
	}
	return info, nil
}

// Providers returns the registered provider names, sorted.
func (r *TransportRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name implements domainllm.ModelTransport.
func (r *TransportRegistry) Name() string {
	return "registry"
}

// Stream implements domainllm.ModelTransport. The provider prefix is
// stripped from the model before the request is forwarded.
func (r *TransportRegistry) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	info, err := ParseModel(req.Model)
	if err != nil {
		return nil, err
	}
	t, err := r.Get(info.Provider)
	if err != nil {
		return nil, err
	}

	forwarded := *req
	forwarded.Model = info.Model
	return t.Stream(ctx, &forwarded)
}
