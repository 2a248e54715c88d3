package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTavilyBaseURL is the default Tavily API endpoint
	DefaultTavilyBaseURL = "https://api.tavily.com/search"
	// DefaultTavilyTimeout is the default HTTP timeout for Tavily requests
	DefaultTavilyTimeout = 30 * time.Second

	tavilyMaxResults = 20
)

// TavilyClient implements SearchClient for Tavily.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// TavilyOption customizes a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyBaseURL points the client at a different endpoint.
func WithTavilyBaseURL(baseURL string) TavilyOption {
	return func(c *TavilyClient) { c.baseURL = baseURL }
}

// WithTavilyTimeout sets the HTTP timeout.
func WithTavilyTimeout(timeout time.Duration) TavilyOption {
	return func(c *TavilyClient) { c.httpClient.Timeout = timeout }
}

// NewTavilyClient creates a new Tavily search client.
func NewTavilyClient(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey:     apiKey,
		baseURL:    DefaultTavilyBaseURL,
		httpClient: &http.Client{Timeout: DefaultTavilyTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tavilyRequest is the JSON body of a search call.
// Tavily expects the API key in the body, not in headers.
type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
	Query   string         `json:"query"`
}

type tavilyResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Search implements SearchClient interface for Tavily.
func (c *TavilyClient) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > tavilyMaxResults {
		maxResults = tavilyMaxResults
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: opts.Depth,
		Topic:       opts.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, len(parsed.Results))
	for i, r := range parsed.Results {
		results[i] = SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		}
		if r.PublishedDate == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			results[i].PublishedAt = &t
		}
	}

	return &SearchResponse{
		Results:   results,
		Query:     query,
		Timestamp: time.Now(),
	}, nil
}
