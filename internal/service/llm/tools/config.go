package tools

// ToolConfig centralizes configuration for the built-in tools.
type ToolConfig struct {
	// Web search tool configuration (external APIs)
	WebSearchDefaultLimit int // Default number of web search results
	WebSearchMaxLimit     int // Maximum allowed web search results
	WebSearchSnippetChars int // Snippets longer than this are truncated (0 = unlimited)

	// DefaultTimezone is used by current_time when no timezone is requested
	DefaultTimezone string
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		WebSearchDefaultLimit: 5,
		WebSearchMaxLimit:     10,
		WebSearchSnippetChars: 800,
		DefaultTimezone:       "UTC",
	}
}
