package tools

import "context"

// ClarifyTool turns a low-confidence classification into a question back
// to the user. The intent router synthesizes its invocation; it never
// appears in the model-facing catalog.
type ClarifyTool struct{}

func NewClarifyTool() *ClarifyTool { return &ClarifyTool{} }

func (t *ClarifyTool) Name() string { return ToolClarify }

func (t *ClarifyTool) Description() string {
	return "Ask the user a clarifying question when the request is ambiguous."
}

func (t *ClarifyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The clarifying question to ask.",
			},
		},
		"required": []string{"question"},
	}
}

func (t *ClarifyTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	question, _ := args["question"].(string)
	if question == "" {
		question = "Could you tell me a bit more about what you need?"
	}
	return UserResult(question).WithData("message", question)
}
