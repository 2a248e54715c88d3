package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cadence/internal/domain/models/llm"
)

// CurrentTimeTool implements the 'current_time' tool.
type CurrentTimeTool struct {
	config *ToolConfig
	now    func() time.Time
}

// NewCurrentTimeTool creates a new CurrentTimeTool instance.
func NewCurrentTimeTool(config *ToolConfig) *CurrentTimeTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &CurrentTimeTool{
		config: config,
		now:    time.Now,
	}
}

// Definition implements Describer.
func (t *CurrentTimeTool) Definition() llm.ToolDefinition {
	return *llm.GetToolDefinitionByName("current_time")
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - timezone (string, optional): IANA timezone name
//
// Returns:
//   - {iso8601: string, unix: int, timezone: string, weekday: string}
func (t *CurrentTimeTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	tz := t.config.DefaultTimezone
	if v, ok := input["timezone"].(string); ok && strings.TrimSpace(v) != "" {
		tz = strings.TrimSpace(v)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone '%s'", tz)
	}

	now := t.now().In(loc)
	return map[string]interface{}{
		"iso8601":  now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	}, nil
}
