package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cadence/internal/domain/models/llm"
	"cadence/internal/service/llm/tools/external"
)

// WebSearchTool implements the 'web_search' tool for searching the web via external APIs.
type WebSearchTool struct {
	client  external.SearchClient
	config  *ToolConfig
	cleaner *snippetCleaner
}

// NewWebSearchTool creates a new WebSearchTool instance.
func NewWebSearchTool(
	client external.SearchClient,
	config *ToolConfig,
) *WebSearchTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &WebSearchTool{
		client:  client,
		config:  config,
		cleaner: newSnippetCleaner(config.WebSearchSnippetChars),
	}
}

// Definition implements Describer.
func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return *llm.GetToolDefinitionByName("web_search")
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - query (string, required): Search query
//   - max_results (integer, optional): Maximum results to return
//   - topic (string, optional): "general", "news", or "finance"
//
// Returns:
//   - {results: [...], query: string, result_count: int}
func (t *WebSearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, errors.New("missing required parameter: query (string)")
	}
	query = strings.TrimSpace(query)

	maxResults := t.config.WebSearchDefaultLimit
	if maxFloat, ok := input["max_results"].(float64); ok {
		maxResults = clamp(int(maxFloat), 1, t.config.WebSearchMaxLimit)
	}

	topic, _ := input["topic"].(string)
	topic = strings.TrimSpace(topic)
	switch topic {
	case "", "general", "news", "finance":
	default:
		return nil, fmt.Errorf("invalid topic '%s': must be 'general', 'news', or 'finance'", topic)
	}

	response, err := t.client.Search(ctx, query, external.SearchOptions{
		MaxResults: maxResults,
		Topic:      topic,
	})
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	resultList := make([]map[string]interface{}, len(response.Results))
	for i, result := range response.Results {
		entry := map[string]interface{}{
			"title":   result.Title,
			"url":     result.URL,
			"snippet": t.cleaner.Clean(result.Snippet),
		}
		if result.PublishedAt != nil {
			entry["published_at"] = result.PublishedAt.Format("2006-01-02")
		}
		if result.Score > 0 {
			entry["score"] = result.Score
		}
		resultList[i] = entry
	}

	return map[string]interface{}{
		"results":      resultList,
		"query":        query,
		"result_count": len(resultList),
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
