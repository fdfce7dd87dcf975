package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	webUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SearchProvider abstracts a web search backend.
type SearchProvider interface {
	Search(ctx context.Context, params searchParams) ([]searchResult, error)
	Name() string
}

type searchParams struct {
	Query      string
	Count      int
	Country    string
	SearchLang string
	Freshness  string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var (
	freshnessShortcuts = map[string]bool{"pd": true, "pw": true, "pm": true, "py": true}
	freshnessRangeRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)
)

func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if freshnessShortcuts[v] {
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errS := time.Parse("2006-01-02", m[1])
		end, errE := time.Parse("2006-01-02", m[2])
		if errS == nil && errE == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

// SearchWebTool searches the web via the first configured provider that
// answers. Results are cached briefly to keep chained invocations cheap.
type SearchWebTool struct {
	providers []SearchProvider
	cache     *webCache
}

// SearchConfig configures the search backends. Brave wins over DuckDuckGo
// when both are enabled.
type SearchConfig struct {
	BraveAPIKey string
	DDGEnabled  bool
	CacheTTL    time.Duration
}

func NewSearchWebTool(cfg SearchConfig) *SearchWebTool {
	var providers []SearchProvider
	if cfg.BraveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(cfg.BraveAPIKey))
	}
	if cfg.DDGEnabled || len(providers) == 0 {
		providers = append(providers, newDuckDuckGoSearchProvider())
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &SearchWebTool{
		providers: providers,
		cache:     newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *SearchWebTool) Name() string { return ToolSearchWeb }

func (t *SearchWebTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *SearchWebTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string.",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results to return (1-10).",
			},
			"country": map[string]interface{}{
				"type":        "string",
				"description": "2-letter country code for region-specific results.",
			},
			"freshness": map[string]interface{}{
				"type":        "string",
				"description": "Filter by discovery time: pd, pw, pm, py or YYYY-MM-DDtoYYYY-MM-DD.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}
	country, _ := args["country"].(string)
	freshness, _ := args["freshness"].(string)

	params := searchParams{Query: query, Count: count, Country: country, Freshness: freshness}
	cacheKey := fmt.Sprintf("search:%s:%d:%s:%s", query, count, country, freshness)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("tool.search.cache_hit", "query", query)
		return NewResult(cached).WithData("results", cached)
	}

	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, params)
		if err != nil {
			slog.Warn("tool.search.provider_failed", "provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		formatted := formatSearchResults(query, results, provider.Name())
		t.cache.set(cacheKey, formatted)
		return NewResult(formatted).WithData("results", results)
	}
	if lastErr != nil {
		return ErrorResult(fmt.Sprintf("all search providers failed: %v", lastErr)).WithError(lastErr)
	}
	return ErrorResult("no search providers configured")
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
