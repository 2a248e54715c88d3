package anthropic

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

// Provider streams Claude responses as fragments.
// It implements domainllm.ModelTransport.
type Provider struct {
	client *anthropic.Client
	logger *slog.Logger
}

// NewProvider creates a new Anthropic provider with the given API key.
// Extra request options (base URL, retries, HTTP client) are passed through to the SDK.
func NewProvider(apiKey string, logger *slog.Logger, opts ...option.RequestOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)

	return &Provider{
		client: &client,
		logger: logger.With("provider", "anthropic"),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}
