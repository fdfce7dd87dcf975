// Package tools holds the tool registry and the built-in tools the intent
// router dispatches to: web search and fetch, document readers, messaging,
// chat and clarification.
package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content fed back into model context
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user message
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error (not serialized)

	// Data carries structured output for placeholder resolution and
	// formatting: "message", "rows", "summary", "files", etc.
	Data map[string]any `json:"data,omitempty"`

	// Usage metadata from tools that make internal model calls.
	Provider string `json:"-"`
	Model    string `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

func (r *Result) WithData(key string, value any) *Result {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = value
	return r
}

// Text returns the best user-facing string from the result: summary first,
// then the common message keys, then the LLM content.
func (r *Result) Text() string {
	if r.Data != nil {
		for _, key := range []string{"summary", "message", "content", "response", "text"} {
			if s, ok := r.Data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if r.ForUser != "" {
		return r.ForUser
	}
	return r.ForLLM
}
