package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one planned invocation.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// PrefetchURL makes the executor scrape this URL and hand the page
	// text to the tool as extra context.
	PrefetchURL string `json:"-"`
}

// Decision is the parsed classification output.
type Decision struct {
	Calls      []ToolCall `json:"calls"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Question   string     `json:"question,omitempty"`
}

const systemPromptHeader = `You are an intent classifier for a personal assistant. Decide which tool, if any, should handle the user's message.

Available tools:
`

const systemPromptFooter = `
Respond with JSON only, no prose. Either a single tool:
{"tool": "<id>", "parameters": {...}, "confidence": 0.0-1.0, "reasoning": "..."}
or a chain:
{"tools": [{"tool": "<id>", "parameters": {...}}, ...], "confidence": 0.0-1.0, "reasoning": "..."}
In chained parameters you may use {PREVIOUS_OUTPUT}, {SEARCH_RESULTS} and {SCRAPED_DATA} placeholders.
If no tool applies, use {"tool": "none", "confidence": ..., "reasoning": "..."}.
If the request is ambiguous, use {"tool": "clarify", "parameters": {"question": "..."}, "confidence": ...}.`

func buildPrompt(catalog, history, message string) string {
	var sb strings.Builder
	sb.WriteString(systemPromptHeader)
	sb.WriteString(catalog)
	sb.WriteString(systemPromptFooter)
	sb.WriteString("\n\n")
	if history != "" {
		sb.WriteString(history)
		sb.WriteString("\n")
	}
	sb.WriteString("User message: ")
	sb.WriteString(message)
	return sb.String()
}

type rawCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

type rawDecision struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Tools      []rawCall      `json:"tools"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Question   string         `json:"question"`
}

// parseDecision accepts both single-tool and chained shapes, tolerating
// code-fence wrappers around the JSON.
func parseDecision(content string) (*Decision, error) {
	payload := stripFences(content)
	payload = firstJSONObject(payload)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}

	d := &Decision{
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
		Question:   raw.Question,
	}
	switch {
	case len(raw.Tools) > 0:
		for _, c := range raw.Tools {
			if c.Tool == "" || c.Tool == "none" {
				continue
			}
			d.Calls = append(d.Calls, ToolCall{Tool: c.Tool, Parameters: c.Parameters})
		}
	case raw.Tool != "" && raw.Tool != "none":
		d.Calls = append(d.Calls, ToolCall{Tool: raw.Tool, Parameters: raw.Parameters})
	}
	if d.Question == "" && len(d.Calls) == 1 && d.Calls[0].Tool == "clarify" {
		if q, ok := d.Calls[0].Parameters["question"].(string); ok {
			d.Question = q
		}
	}
	return d, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// firstJSONObject cuts the outermost {...} span, skipping prose the model
// may have wrapped around it.
func firstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
