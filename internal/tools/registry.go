package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is one dispatchable capability. Parameters returns a JSON-schema
// style description used both for validation hints and prompt composition.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Canonical tool ids.
const (
	ToolSearchWeb    = "searchWeb"
	ToolFetchWebPage = "fetchWebPage"
	ToolFetchJsPage  = "fetchJsPage"
	ToolAIChat       = "aiChat"
	ToolSendWhatsApp = "sendWhatsApp"
	ToolSendTelegram = "sendTelegram"
	ToolSendEmail    = "sendEmail"
	ToolReadPdf      = "readPdf"
	ToolReadExcel    = "readExcel"
	ToolReadDocx     = "readDocx"
	ToolReadText     = "readText"
	ToolReadCsv      = "readCsv"
	ToolClarify      = "clarify"
)

var messagingTools = map[string]bool{
	ToolSendWhatsApp: true,
	ToolSendTelegram: true,
	ToolSendEmail:    true,
}

// IsMessagingTool reports whether a tool sends outbound messages and is
// therefore subject to the auto-send restriction.
func IsMessagingTool(id string) bool { return messagingTools[id] }

var fileTools = map[string]bool{
	ToolReadPdf:   true,
	ToolReadExcel: true,
	ToolReadDocx:  true,
	ToolReadText:  true,
	ToolReadCsv:   true,
}

// IsFileTool reports whether a tool reads document content (triggers the
// post-chain summarization step).
func IsFileTool(id string) bool { return fileTools[id] }

var searchTools = map[string]bool{ToolSearchWeb: true}

var scrapeTools = map[string]bool{
	ToolFetchWebPage: true,
	ToolFetchJsPage:  true,
}

func IsSearchTool(id string) bool { return searchTools[id] }
func IsScrapeTool(id string) bool { return scrapeTools[id] }

// Registry is the thread-safe tool catalog.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	return t, ok
}

// Names returns registered tool ids, sorted for stable fingerprints.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Catalog renders the prompt section describing the available tools,
// filtered by the enabled set (nil = all).
func (r *Registry) Catalog(enabled []string) string {
	allow := func(string) bool { return true }
	if enabled != nil {
		set := make(map[string]bool, len(enabled))
		for _, id := range enabled {
			set[id] = true
		}
		allow = func(id string) bool { return set[id] }
	}

	var sb strings.Builder
	for _, name := range r.Names() {
		if !allow(name) {
			continue
		}
		t, _ := r.Get(name)
		sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name(), t.Description()))
		if params := t.Parameters(); params != nil {
			if props, ok := params["properties"].(map[string]interface{}); ok {
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					desc := ""
					if p, ok := props[k].(map[string]interface{}); ok {
						desc, _ = p["description"].(string)
					}
					sb.WriteString(fmt.Sprintf("    %s: %s\n", k, desc))
				}
			}
		}
	}
	return sb.String()
}
