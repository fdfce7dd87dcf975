// Package intent classifies active messages into tool invocations and runs
// the resulting chain: decision cache, prompt composition, JSON parsing,
// auto-switches, per-user access control, placeholder resolution and
// user-facing formatting.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/providers"
	"github.com/nextlevelbuilder/superbrain/internal/router"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/internal/tools"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

const (
	defaultConfidenceThreshold = 0.70
	classifyTemperature        = 0.3
	summaryTemperature         = 0.3
	summaryMaxTokens           = 1500
	summaryInputCap            = 12000

	defaultClarifyQuestion = "Could you clarify what you would like me to do?"
	classifyOnlyError      = "Not executed (classify_only mode)"
)

// ModelCaller is the provider-router surface the intent router needs.
// Satisfied by *router.Router.
type ModelCaller interface {
	Process(ctx context.Context, req router.Request) (*router.Response, error)
}

// ToolRecord traces one planned invocation, executed or not.
type ToolRecord struct {
	Tool        string         `json:"tool"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Duration    time.Duration  `json:"duration,omitempty"`
	Blocked     bool           `json:"blocked,omitempty"`
	BlockReason string         `json:"block_reason,omitempty"`
	Error       string         `json:"error,omitempty"`

	Result *tools.Result `json:"-"`
}

// Result is what route() hands back to the pipeline.
type Result struct {
	Type       protocol.ResultType `json:"type"`
	Response   string              `json:"response,omitempty"`
	Silent     bool                `json:"silent,omitempty"`
	Skipped    bool                `json:"skipped,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Reasoning  string              `json:"reasoning,omitempty"`
	Records    []ToolRecord        `json:"records,omitempty"`

	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
	Usage    *providers.Usage `json:"usage,omitempty"`
}

// Router is the intent router.
type Router struct {
	registry *tools.Registry
	model    ModelCaller
	settings store.SettingsStore
	cache    *decisionCache
	history  *History
	log      *slog.Logger
}

func New(registry *tools.Registry, model ModelCaller, settings store.SettingsStore, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry: registry,
		model:    model,
		settings: settings,
		cache:    newDecisionCache(),
		history:  NewHistory(),
		log:      log,
	}
}

// History exposes the conversation ring so the pipeline can append direct
// AI exchanges too.
func (r *Router) History() *History { return r.history }

// Route classifies the message and executes the resulting tool chain.
func (r *Router) Route(ctx context.Context, msg *bus.Message, bctx *bus.Context) (*Result, error) {
	settings := r.loadSettings(ctx, bctx.UserID)
	if settings.AIRouterMode == store.RouterModeDisabled {
		return &Result{Type: protocol.ResultNoAction, Skipped: true}, nil
	}

	enabled := settings.EnabledTools
	if enabled == nil {
		enabled = r.registry.Names()
	}
	key := fingerprint(msg.Content, enabled)

	decision, cached := r.cache.Get(key)
	var provider, model string
	var usage *providers.Usage
	if !cached {
		prompt := buildPrompt(
			r.registry.Catalog(settings.EnabledTools),
			renderHistory(r.history.Last(bctx.ConversationID, historyInject)),
			msg.Content,
		)
		resp, err := r.model.Process(ctx, router.Request{
			Messages:    []providers.Message{providers.User(prompt)},
			UserID:      bctx.UserID,
			Temperature: classifyTemperature,
			JSONOnly:    true,
			PreferFree:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("intent classification: %w", err)
		}
		provider, model, usage = resp.Provider, resp.Model, resp.Usage

		d, perr := parseDecision(resp.Content)
		if perr != nil {
			r.log.Warn("intent.parse_failed", "user", bctx.UserID, "error", perr)
			return r.clarify(ctx, msg, bctx, "", 0, "unparseable classification"), nil
		}
		decision = *d
		r.cache.Put(key, decision)
	} else {
		r.log.Debug("intent.cache_hit", "user", bctx.UserID)
	}

	if len(decision.Calls) == 0 {
		return &Result{
			Type:       protocol.ResultNoAction,
			Confidence: decision.Confidence,
			Reasoning:  decision.Reasoning,
			Provider:   provider,
			Model:      model,
			Usage:      usage,
		}, nil
	}

	threshold := settings.ToolConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	if decision.Confidence < threshold && !isClarify(decision) {
		return r.clarify(ctx, msg, bctx, decision.Question, decision.Confidence, decision.Reasoning), nil
	}

	applyAutoSwitches(&decision, msg.Content)

	if settings.AIRouterMode == store.RouterModeClassifyOnly {
		return r.classifyOnlyResult(decision, provider, model, usage), nil
	}

	res := r.executeChain(ctx, decision, settings)
	res.Provider, res.Model, res.Usage = provider, model, usage
	if res.Type == protocol.ResultClarification && res.Response == "" {
		res.Response = defaultClarifyQuestion
	}
	if res.Response != "" && !res.Silent {
		r.history.Add(bctx.ConversationID, msg.Content, res.Response)
	}
	return res, nil
}

func (r *Router) loadSettings(ctx context.Context, userID string) *store.UserSettings {
	s, err := r.settings.Get(ctx, userID)
	if err != nil {
		r.log.Warn("intent.settings_load_failed", "user", userID, "error", err)
	}
	if s == nil {
		s = store.DefaultUserSettings(userID)
	}
	return s
}

func isClarify(d Decision) bool {
	return len(d.Calls) == 1 && d.Calls[0].Tool == tools.ToolClarify
}

// clarify synthesizes a clarification turn when confidence is too low or
// the classification did not parse.
func (r *Router) clarify(ctx context.Context, msg *bus.Message, bctx *bus.Context, question string, confidence float64, reasoning string) *Result {
	if question == "" {
		question = defaultClarifyQuestion
	}
	rec := ToolRecord{Tool: tools.ToolClarify, Parameters: map[string]any{"question": question}}
	if t, ok := r.registry.Get(tools.ToolClarify); ok {
		start := time.Now()
		res := t.Execute(ctx, rec.Parameters)
		rec.Duration = time.Since(start)
		rec.Result = res
		if res.Text() != "" {
			question = res.Text()
		}
	}
	r.history.Add(bctx.ConversationID, msg.Content, question)
	return &Result{
		Type:       protocol.ResultClarification,
		Response:   question,
		Confidence: confidence,
		Reasoning:  reasoning,
		Records:    []ToolRecord{rec},
	}
}

func (r *Router) classifyOnlyResult(d Decision, provider, model string, usage *providers.Usage) *Result {
	records := make([]ToolRecord, 0, len(d.Calls))
	names := make([]string, 0, len(d.Calls))
	for _, c := range d.Calls {
		records = append(records, ToolRecord{Tool: c.Tool, Parameters: c.Parameters, Error: classifyOnlyError})
		names = append(names, c.Tool)
	}
	return &Result{
		Type:       protocol.ResultToolExecuted,
		Response:   "Classified (not executed): " + strings.Join(names, ", "),
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
		Records:    records,
		Provider:   provider,
		Model:      model,
		Usage:      usage,
	}
}

var (
	ecommerceRe = regexp.MustCompile(`(?i)\b(shopee|lazada|amazon|tokopedia|alibaba|taobao|ebay|zalora)\.[a-z]`)
	urlRe       = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// applyAutoSwitches rewrites the plan by content pattern: e-commerce URLs
// need the JS-rendering fetch, and a bare URL next to a chat tool gets
// prefetched as context.
func applyAutoSwitches(d *Decision, content string) {
	for i := range d.Calls {
		c := &d.Calls[i]
		switch {
		case c.Tool == tools.ToolFetchWebPage:
			if url, ok := c.Parameters["url"].(string); ok && ecommerceRe.MatchString(url) {
				c.Tool = tools.ToolFetchJsPage
			}
		case c.Tool == tools.ToolAIChat:
			if url := urlRe.FindString(content); url != "" {
				c.PrefetchURL = strings.TrimRight(url, ".,;:!?)")
			}
		}
	}
}

// executeChain runs the calls in order. Blocked invocations are skipped
// with a notice; a real failure stops the chain.
func (r *Router) executeChain(ctx context.Context, d Decision, settings *store.UserSettings) *Result {
	var (
		records    []ToolRecord
		notices    []string
		lastOutput string
		lastSearch string
		lastScrape string
		finalRes   *tools.Result
		chainErr   string
	)

	for _, call := range d.Calls {
		if reason := r.accessCheck(call.Tool, settings); reason != "" {
			records = append(records, ToolRecord{Tool: call.Tool, Parameters: call.Parameters, Blocked: true, BlockReason: reason})
			notices = append(notices, fmt.Sprintf("%s was not executed: %s", call.Tool, reason))
			r.log.Info("intent.tool_blocked", "tool", call.Tool, "reason", reason)
			continue
		}

		tool, ok := r.registry.Get(call.Tool)
		if !ok {
			chainErr = fmt.Sprintf("unknown tool %q", call.Tool)
			records = append(records, ToolRecord{Tool: call.Tool, Parameters: call.Parameters, Error: chainErr})
			break
		}

		args := resolvePlaceholders(call.Parameters, lastOutput, lastSearch, lastScrape)
		if call.PrefetchURL != "" {
			args = r.prefetch(ctx, call.PrefetchURL, args)
		}

		start := time.Now()
		res := tool.Execute(ctx, args)
		rec := ToolRecord{Tool: call.Tool, Parameters: args, Duration: time.Since(start), Result: res}
		if res.IsError {
			rec.Error = res.ForLLM
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}
		}
		records = append(records, rec)

		if res.IsError {
			chainErr = rec.Error
			r.log.Warn("intent.tool_failed", "tool", call.Tool, "error", rec.Error)
			break
		}

		lastOutput = res.ForLLM
		if tools.IsSearchTool(call.Tool) {
			lastSearch = structuredResults(res)
		}
		if tools.IsScrapeTool(call.Tool) {
			lastScrape = res.ForLLM
		}
		finalRes = res
		r.log.Info("intent.tool_executed", "tool", call.Tool, "duration", rec.Duration)
	}

	r.summarizeFileResult(ctx, records, finalRes)

	out := &Result{
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
		Records:    records,
	}
	switch {
	case finalRes != nil:
		out.Type = protocol.ResultToolExecuted
		out.Response = formatResult(finalRes)
		out.Silent = finalRes.Silent
	case chainErr != "":
		out.Type = protocol.ResultError
		out.Response = "Tool execution failed: " + chainErr
	default:
		// Everything was blocked.
		out.Type = protocol.ResultToolExecuted
	}

	if len(notices) > 0 && !out.Silent {
		if out.Response != "" {
			out.Response += "\n\n"
		}
		out.Response += "Note: " + strings.Join(notices, "; ")
	}
	return out
}

func (r *Router) accessCheck(toolID string, settings *store.UserSettings) string {
	if !settings.ToolEnabled(toolID) {
		return "tool is not enabled for this user"
	}
	if tools.IsMessagingTool(toolID) && settings.AutoSendMode == store.AutoSendRestricted {
		return "automatic sending is restricted; enable auto-send to allow this"
	}
	return ""
}

// prefetch scrapes the URL and hands the page text to the tool through
// the context parameter.
func (r *Router) prefetch(ctx context.Context, url string, args map[string]any) map[string]any {
	fetchID := tools.ToolFetchWebPage
	if ecommerceRe.MatchString(url) {
		fetchID = tools.ToolFetchJsPage
	}
	fetcher, ok := r.registry.Get(fetchID)
	if !ok {
		return args
	}
	res := fetcher.Execute(ctx, map[string]any{"url": url})
	if res.IsError || res.ForLLM == "" {
		r.log.Warn("intent.prefetch_failed", "url", url)
		return args
	}
	if args == nil {
		args = make(map[string]any)
	}
	if existing, ok := args["context"].(string); ok && existing != "" {
		args["context"] = existing + "\n\n" + res.ForLLM
	} else {
		args["context"] = res.ForLLM
	}
	return args
}

// structuredResults prefers the tool's structured result objects as JSON
// over its display text. Cache hits only carry the text form.
func structuredResults(res *tools.Result) string {
	if raw, ok := res.Data["results"]; ok {
		if _, isText := raw.(string); !isText {
			if b, err := json.Marshal(raw); err == nil {
				return string(b)
			}
		}
	}
	return res.ForLLM
}

// resolvePlaceholders substitutes chain outputs into string parameters.
// Non-string values pass through untouched.
func resolvePlaceholders(params map[string]any, prev, search, scrape string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, prev, search, scrape)
	}
	return out
}

func resolveValue(v any, prev, search, scrape string) any {
	switch vv := v.(type) {
	case string:
		s := strings.ReplaceAll(vv, "{PREVIOUS_OUTPUT}", prev)
		s = strings.ReplaceAll(s, "{SEARCH_RESULTS}", search)
		s = strings.ReplaceAll(s, "{SCRAPED_DATA}", scrape)
		return s
	case map[string]any:
		return resolvePlaceholders(vv, prev, search, scrape)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = resolveValue(item, prev, search, scrape)
		}
		return out
	default:
		return v
	}
}

// summarizeFileResult condenses document reads into a short plain-text
// summary attached under the summary key.
func (r *Router) summarizeFileResult(ctx context.Context, records []ToolRecord, finalRes *tools.Result) {
	if finalRes == nil || len(records) == 0 {
		return
	}
	last := records[len(records)-1]
	if !tools.IsFileTool(last.Tool) || last.Error != "" || last.Result != finalRes {
		return
	}
	content := finalRes.ForLLM
	if content == "" {
		return
	}
	if len(content) > summaryInputCap {
		content = content[:summaryInputCap]
	}
	prompt := "Summarize the following document in at most 500 words of plain text. " +
		"Keep key figures and names.\n\n" + content
	resp, err := r.model.Process(ctx, router.Request{
		Messages:    []providers.Message{providers.User(prompt)},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		PreferFree:  true,
	})
	if err != nil {
		r.log.Warn("intent.summarize_failed", "error", err)
		return
	}
	finalRes.WithData("summary", strings.TrimSpace(resp.Content))
}
