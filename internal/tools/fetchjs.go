package tools

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const jsRenderTimeout = 45 * time.Second

// FetchJsPageTool renders a page in headless Chromium before extracting
// text. Used for JS-heavy storefronts where a plain GET returns an empty
// shell. The browser launches lazily on first use and is shared.
type FetchJsPageTool struct {
	maxChars int
	cache    *webCache

	mu      sync.Mutex
	browser *rod.Browser
}

func NewFetchJsPageTool(cfg FetchConfig) *FetchJsPageTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FetchJsPageTool{maxChars: maxChars, cache: newWebCache(defaultCacheMaxEntries, ttl)}
}

func (t *FetchJsPageTool) Name() string { return ToolFetchJsPage }

func (t *FetchJsPageTool) Description() string {
	return "Fetch a JavaScript-rendered page (e-commerce listings, SPAs) using a headless browser."
}

func (t *FetchJsPageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to render and extract.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchJsPageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrorResult("only http and https URLs are supported")
	}
	if err := checkSSRF(rawURL); err != nil {
		return ErrorResult(fmt.Sprintf("SSRF protection: %v", err))
	}

	if cached, ok := t.cache.get("js:" + rawURL); ok {
		return NewResult(cached).WithData("scraped", cached)
	}

	text, err := t.render(ctx, rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("render failed: %s", truncateStr(err.Error(), defaultErrorMaxChars))).WithError(err)
	}
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
	}
	out := fmt.Sprintf("URL: %s\n\n%s", rawURL, text)
	t.cache.set("js:"+rawURL, out)
	return NewResult(out).WithData("scraped", out)
}

func (t *FetchJsPageTool) render(ctx context.Context, rawURL string) (string, error) {
	browser, err := t.getBrowser()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}

	renderCtx, cancel := context.WithTimeout(ctx, jsRenderTimeout)
	defer cancel()

	page, err := browser.Context(renderCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	// Settle dynamic content briefly; storefronts hydrate after load.
	page.WaitRequestIdle(2*time.Second, nil, nil, nil)()

	el, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("find body: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}

func (t *FetchJsPageTool) getBrowser() (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		return t.browser, nil
	}
	path, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(path)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	t.browser = b
	return b, nil
}

// Close shuts the shared browser down.
func (t *FetchJsPageTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	return err
}
