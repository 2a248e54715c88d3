package tools

import (
	"cadence/internal/service/llm/tools/external"
)

// ToolRegistryBuilder provides a fluent API for building tool registries.
type ToolRegistryBuilder struct {
	registry *ToolRegistry
	config   *ToolConfig
}

// NewToolRegistryBuilder creates a new builder with a fresh registry.
func NewToolRegistryBuilder() *ToolRegistryBuilder {
	return &ToolRegistryBuilder{
		registry: NewToolRegistry(),
		config:   DefaultToolConfig(),
	}
}

// WithConfig sets custom tool configuration.
// If not called, defaults will be used.
func (b *ToolRegistryBuilder) WithConfig(config *ToolConfig) *ToolRegistryBuilder {
	if config != nil {
		b.config = config
	}
	return b
}

// WithCurrentTime registers the current_time tool.
func (b *ToolRegistryBuilder) WithCurrentTime() *ToolRegistryBuilder {
	b.registry.Register("current_time", NewCurrentTimeTool(b.config))
	return b
}

// WithWebSearch registers the web_search tool using an external search client.
// Only registers if a valid client is provided.
func (b *ToolRegistryBuilder) WithWebSearch(client external.SearchClient) *ToolRegistryBuilder {
	if client != nil {
		b.registry.Register("web_search", NewWebSearchTool(client, b.config))
	}
	return b
}

// WithTool registers an arbitrary executor under name.
func (b *ToolRegistryBuilder) WithTool(name string, executor ToolExecutor) *ToolRegistryBuilder {
	b.registry.Register(name, executor)
	return b
}

// Build returns the constructed tool registry.
func (b *ToolRegistryBuilder) Build() *ToolRegistry {
	return b.registry
}
