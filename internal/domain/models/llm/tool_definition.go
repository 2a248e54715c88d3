package llm

// ToolDefinition describes a tool to the model: its name, what it does and
// the JSON schema of its arguments.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// RequiredParameters returns the "required" list of the parameter schema.
// Schemas decoded from JSON carry []interface{}, hand-written ones []string.
func (td ToolDefinition) RequiredParameters() []string {
	switch v := td.Parameters["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// GetBuiltinToolDefinitions returns the definitions of the tools shipped with the server.
// Use includeWebSearch=true to add web_search (requires a search API key).
func GetBuiltinToolDefinitions(includeWebSearch bool) []ToolDefinition {
	defs := []ToolDefinition{getCurrentTimeToolDefinition()}
	if includeWebSearch {
		defs = append(defs, getWebSearchToolDefinition())
	}
	return defs
}

// GetToolDefinitionByName returns the built-in definition for name, or nil.
func GetToolDefinitionByName(name string) *ToolDefinition {
	switch name {
	case "current_time":
		def := getCurrentTimeToolDefinition()
		return &def
	case "web_search":
		def := getWebSearchToolDefinition()
		return &def
	default:
		return nil
	}
}

func getCurrentTimeToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "current_time",
		Description: "Return the current date and time. Use this whenever the task depends on today's date or the time of day.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "Optional IANA timezone name (e.g., 'Europe/Berlin'). Defaults to UTC.",
				},
			},
			"required": []string{},
		},
	}
}

// getWebSearchToolDefinition returns the schema for the 'web_search' tool.
func getWebSearchToolDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information using an external search API. Returns up to 'max_results' web pages with titles, URLs, and content snippets. Use this to find recent news, facts, or information not in your training data.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query. Be specific and use relevant keywords for best results.",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: maximum number of results to return (default: 5, max: 10).",
					"minimum":     1,
					"maximum":     10,
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"general", "news", "finance"},
					"description": "Optional: search category. 'general' for all web content, 'news' for recent news articles, 'finance' for financial data. Default: general.",
				},
			},
			"required": []string{"query"},
		},
	}
}
