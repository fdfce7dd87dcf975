package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider wraps an agentic coding CLI (claude, gemini, opencode)
// behind the uniform call surface. The conversation is flattened to a
// single prompt; the CLI's stdout is the answer.
type CLIProvider struct {
	tag     string
	cliType string
	model   string
	command []string // argv template; "{PROMPT}" is replaced, else appended
}

// Default argv templates per CLI type.
var cliCommandTemplates = map[string][]string{
	"claude":   {"claude", "-p", "{PROMPT}", "--output-format", "text"},
	"gemini":   {"gemini", "-p", "{PROMPT}"},
	"opencode": {"opencode", "run", "{PROMPT}"},
}

func NewCLIProvider(tag, cliType, model string, command []string) (*CLIProvider, error) {
	if len(command) == 0 {
		tpl, ok := cliCommandTemplates[cliType]
		if !ok {
			return nil, fmt.Errorf("unknown cli type %q", cliType)
		}
		command = tpl
	}
	return &CLIProvider{tag: tag, cliType: cliType, model: model, command: command}, nil
}

func (p *CLIProvider) Name() string         { return p.tag }
func (p *CLIProvider) DefaultModel() string { return p.modelName() }
func (p *CLIProvider) CLIType() string      { return p.cliType }

func (p *CLIProvider) modelName() string {
	if p.model != "" {
		return p.model
	}
	return p.cliType
}

// flattenMessages renders the conversation as a prompt the CLI can take
// as one argument.
func flattenMessages(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case "assistant":
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func (p *CLIProvider) Call(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	prompt := flattenMessages(req.Messages)
	if req.JSONOnly {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	argv := make([]string, 0, len(p.command)+1)
	replaced := false
	for _, part := range p.command {
		if part == "{PROMPT}" {
			argv = append(argv, prompt)
			replaced = true
			continue
		}
		argv = append(argv, part)
	}
	if !replaced {
		argv = append(argv, prompt)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%s: %s", p.tag, detail)
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return nil, fmt.Errorf("%s: empty output", p.tag)
	}
	return &ChatResponse{
		Content:  content,
		Model:    p.modelName(),
		Provider: p.tag,
	}, nil
}

func (p *CLIProvider) Healthy(ctx context.Context) error {
	_ = ctx
	if _, err := exec.LookPath(p.command[0]); err != nil {
		return fmt.Errorf("%s binary not found: %w", p.command[0], err)
	}
	return nil
}
