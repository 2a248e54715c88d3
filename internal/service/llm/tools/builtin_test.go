package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence/internal/service/llm/tools/external"
)

type fakeSearchClient struct {
	lastQuery string
	lastOpts  external.SearchOptions
	err       error
}

func (f *fakeSearchClient) Search(ctx context.Context, query string, opts external.SearchOptions) (*external.SearchResponse, error) {
	f.lastQuery = query
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &external.SearchResponse{
		Query: query,
		Results: []external.SearchResult{
			{Title: "Go", URL: "https://go.dev", Snippet: "The Go language", Score: 0.5},
		},
	}, nil
}

func TestWebSearchTool_Execute(t *testing.T) {
	tests := []struct {
		name      string
		input     map[string]interface{}
		clientErr error
		wantErr   bool
		wantMax   int
	}{
		{name: "missing query", input: map[string]interface{}{}, wantErr: true},
		{name: "blank query", input: map[string]interface{}{"query": "  "}, wantErr: true},
		{name: "invalid topic", input: map[string]interface{}{"query": "go", "topic": "sports"}, wantErr: true},
		{name: "default limit", input: map[string]interface{}{"query": "go"}, wantMax: 5},
		{name: "limit clamped", input: map[string]interface{}{"query": "go", "max_results": float64(99)}, wantMax: 10},
		{name: "client failure", input: map[string]interface{}{"query": "go"}, clientErr: errors.New("down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSearchClient{err: tt.clientErr}
			tool := NewWebSearchTool(client, nil)

			out, err := tool.Execute(context.Background(), tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if client.lastOpts.MaxResults != tt.wantMax {
				t.Errorf("MaxResults = %d, want %d", client.lastOpts.MaxResults, tt.wantMax)
			}
			result := out.(map[string]interface{})
			if result["result_count"] != 1 {
				t.Errorf("result_count = %v", result["result_count"])
			}
		})
	}
}

func TestCurrentTimeTool_Execute(t *testing.T) {
	tool := NewCurrentTimeTool(nil)
	tool.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }

	out, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := out.(map[string]interface{})
	if result["iso8601"] != "2025-03-14T12:00:00Z" {
		t.Errorf("iso8601 = %v", result["iso8601"])
	}
	if result["weekday"] != "Friday" {
		t.Errorf("weekday = %v", result["weekday"])
	}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestToolRegistryBuilder(t *testing.T) {
	registry := NewToolRegistryBuilder().
		WithCurrentTime().
		WithWebSearch(nil).
		WithWebSearch(&fakeSearchClient{}).
		Build()

	if _, ok := registry.Lookup("current_time"); !ok {
		t.Error("current_time not registered")
	}
	if _, ok := registry.Lookup("web_search"); !ok {
		t.Error("web_search not registered")
	}
	if defs := registry.Definitions(); len(defs) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(defs))
	}
}
