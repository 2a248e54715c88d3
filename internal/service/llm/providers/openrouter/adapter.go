// Package openrouter serves models through OpenRouter using the
// meridian-llm-go provider library. Any llmprovider.Provider can be wrapped
// the same way; the adapter maps the library's block deltas to fragments.
package openrouter

import (
	"context"
	"fmt"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"

	domainllm "cadence/internal/domain/services/llm"
)

// Adapter wraps a library provider and implements domainllm.ModelTransport.
type Adapter struct {
	provider llmprovider.Provider
}

// NewAdapter creates an adapter over the library's OpenRouter provider.
// Models are addressed as "openrouter/<vendor>/<model>".
func NewAdapter(apiKey string) (*Adapter, error) {
	provider, err := openrouter.NewProvider(apiKey)
	if err != nil {
		return nil, fmt.Errorf("create openrouter provider: %w", err)
	}
	return NewAdapterWithProvider(provider), nil
}

// NewAdapterWithProvider creates an adapter from an existing provider.
func NewAdapterWithProvider(provider llmprovider.Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return a.provider.Name().String()
}

// Stream implements domainllm.ModelTransport.
func (a *Adapter) Stream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	if !a.provider.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by %s", req.Model, a.Name())
	}

	libReq, err := convertToLibraryRequest(req)
	if err != nil {
		return nil, err
	}

	libEvents, err := a.provider.StreamResponse(ctx, libReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", a.Name(), err)
	}

	out := make(chan domainllm.StreamEvent)
	go func() {
		defer close(out)
		mapper := newFragmentMapper()
		for event := range libEvents {
			for _, converted := range mapper.convert(event) {
				select {
				case out <- converted:
				case <-ctx.Done():
					// Drain so the provider goroutine can exit
					for range libEvents {
					}
					return
				}
				if converted.Err != nil || converted.Fragment.IsEnd() {
					for range libEvents {
					}
					return
				}
			}
		}
		if !mapper.ended {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("%s stream closed without completion metadata", a.Name())
			}
			select {
			case out <- domainllm.StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
