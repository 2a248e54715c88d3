package tools

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

// snippetCleaner turns search snippets that carry HTML into markdown the
// model can read. Plain-text snippets pass through untouched apart from
// trimming and truncation.
//
// Safe for concurrent use.
type snippetCleaner struct {
	policy    *bluemonday.Policy
	strict    *bluemonday.Policy
	converter *md.Converter
	maxChars  int
}

func newSnippetCleaner(maxChars int) *snippetCleaner {
	return &snippetCleaner{
		policy:    bluemonday.UGCPolicy(),
		strict:    bluemonday.StrictPolicy(),
		converter: md.NewConverter("", true, nil),
		maxChars:  maxChars,
	}
}

// Clean sanitizes, converts and truncates one snippet.
func (c *snippetCleaner) Clean(snippet string) string {
	text := strings.TrimSpace(snippet)
	if strings.ContainsAny(text, "<&") {
		// Scripts, handlers and javascript: URLs go before conversion
		sanitized := c.policy.Sanitize(text)
		converted, err := c.converter.ConvertString(sanitized)
		if err != nil {
			converted = c.strict.Sanitize(text)
		}
		text = strings.TrimSpace(converted)
	}
	return truncateRunes(text, c.maxChars)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
