package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

const helpText = `Available commands:
/help - this message
/status - running background tasks
/flows - your active flows
/agents - your auto-respond agents

Anything else is handled by the assistant.`

// builtinCommand handles slash commands before any model is consulted.
// Returns nil when the content is not a recognized built-in.
func (p *Pipeline) builtinCommand(ctx context.Context, msg *bus.Message, bctx *bus.Context) *Result {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return nil
	}
	cmd := strings.ToLower(strings.TrimPrefix(strings.Fields(content)[0], "/"))
	switch cmd {
	case "help":
		return &Result{Type: protocol.ResultToolExecuted, Response: helpText,
			Metadata: map[string]any{"command": cmd}}
	case "status":
		return p.statusCommand(ctx, bctx)
	case "flows":
		return p.flowsCommand(ctx, bctx)
	case "agents":
		return p.agentsCommand(ctx, bctx)
	default:
		return nil
	}
}

func (p *Pipeline) statusCommand(ctx context.Context, bctx *bus.Context) *Result {
	running := 0
	if p.stores != nil && p.stores.Executions != nil {
		if n, err := p.stores.Executions.CountRunning(ctx, bctx.UserID); err == nil {
			running = n
		}
	}
	resp := "System Status: Online\nNo background tasks running."
	if running > 0 {
		resp = fmt.Sprintf("System Status: Online\n%d background task(s) running.", running)
	}
	return &Result{Type: protocol.ResultToolExecuted, Response: resp,
		Metadata: map[string]any{"command": "status", "running": running}}
}

func (p *Pipeline) flowsCommand(ctx context.Context, bctx *bus.Context) *Result {
	var names []string
	if p.stores != nil && p.stores.Flows != nil {
		if active, err := p.stores.Flows.ListActive(ctx, bctx.UserID); err == nil {
			for _, f := range active {
				names = append(names, f.Name)
			}
		}
	}
	resp := "No active flows."
	if len(names) > 0 {
		resp = "Active flows:\n- " + strings.Join(names, "\n- ")
	}
	return &Result{Type: protocol.ResultToolExecuted, Response: resp,
		Metadata: map[string]any{"command": "flows", "count": len(names)}}
}

func (p *Pipeline) agentsCommand(ctx context.Context, bctx *bus.Context) *Result {
	var names []string
	if p.stores != nil && p.stores.Agents != nil {
		if agents, err := p.stores.Agents.ListAutoRespond(ctx, bctx.UserID); err == nil {
			for _, a := range agents {
				names = append(names, a.Name)
			}
		}
	}
	resp := "No auto-respond agents."
	if len(names) > 0 {
		resp = "Auto-respond agents:\n- " + strings.Join(names, "\n- ")
	}
	return &Result{Type: protocol.ResultToolExecuted, Response: resp,
		Metadata: map[string]any{"command": "agents", "count": len(names)}}
}
