package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func TestRegistryCatalogFiltering(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClarifyTool())
	r.Register(NewReadTextTool(ReadToolConfig{}))

	all := r.Catalog(nil)
	if !strings.Contains(all, ToolClarify) || !strings.Contains(all, ToolReadText) {
		t.Fatalf("catalog missing tools:\n%s", all)
	}

	filtered := r.Catalog([]string{ToolReadText})
	if strings.Contains(filtered, ToolClarify) {
		t.Fatalf("filtered catalog leaked disabled tool:\n%s", filtered)
	}
	if !strings.Contains(filtered, ToolReadText) {
		t.Fatalf("filtered catalog dropped enabled tool:\n%s", filtered)
	}
}

func TestToolClassification(t *testing.T) {
	if !IsMessagingTool(ToolSendWhatsApp) || !IsMessagingTool(ToolSendEmail) {
		t.Fatal("messaging tools not classified")
	}
	if IsMessagingTool(ToolSearchWeb) {
		t.Fatal("searchWeb misclassified as messaging")
	}
	if !IsFileTool(ToolReadPdf) || IsFileTool(ToolAIChat) {
		t.Fatal("file tool classification wrong")
	}
	if !IsSearchTool(ToolSearchWeb) || !IsScrapeTool(ToolFetchJsPage) {
		t.Fatal("search/scrape classification wrong")
	}
}

func TestResultText(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		want string
	}{
		{"summary wins", NewResult("raw").WithData("summary", "short").WithData("message", "long"), "short"},
		{"message next", NewResult("raw").WithData("message", "msg"), "msg"},
		{"for user", &Result{ForLLM: "llm", ForUser: "user"}, "user"},
		{"fallback to llm", NewResult("llm"), "llm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Text(); got != tt.want {
				t.Fatalf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendToolEnqueues(t *testing.T) {
	stores := store.NewMemoryStores()
	tool := NewSendWhatsAppTool(stores.Delivery, func(context.Context) string { return "acct-1" })

	res := tool.Execute(context.Background(), map[string]interface{}{
		"phone":   "+491234",
		"message": "hello",
	})
	if res.IsError {
		t.Fatalf("send failed: %s", res.ForLLM)
	}
	if res.Silent {
		t.Fatal("send confirmation should be user-visible")
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"message": "no recipient"})
	if !res.IsError {
		t.Fatal("missing recipient should error")
	}
}

type staticChatter struct {
	reply string
	err   error
}

func (s staticChatter) ChatText(context.Context, string) (string, string, string, error) {
	return s.reply, "test", "test-model", s.err
}

func TestAIChatTool(t *testing.T) {
	tool := NewAIChatTool(staticChatter{reply: "42"})
	res := tool.Execute(context.Background(), map[string]interface{}{"message": "meaning of life?"})
	if res.IsError || res.Text() != "42" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Provider != "test" || res.Model != "test-model" {
		t.Fatalf("usage metadata missing: %q %q", res.Provider, res.Model)
	}
}

func TestNormalizeFreshness(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pd", "pd"},
		{"PW", "pw"},
		{"2026-01-01to2026-02-01", "2026-01-01to2026-02-01"},
		{"2026-02-01to2026-01-01", ""}, // start after end
		{"yesterday", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeFreshness(tt.in); got != tt.want {
			t.Errorf("normalizeFreshness(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWebCacheExpiry(t *testing.T) {
	c := newWebCache(2, 10*time.Millisecond)
	c.set("a", "1")
	if v, ok := c.get("a"); !ok || v != "1" {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("a"); ok {
		t.Fatal("expired entry should miss")
	}

	// Capacity bound holds.
	c.set("a", "1")
	c.set("b", "2")
	c.set("c", "3")
	hits := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.get(k); ok {
			hits++
		}
	}
	if hits > 2 {
		t.Fatalf("cache exceeded capacity: %d entries", hits)
	}
}

func TestExtractDDGResultsUnwrapsRedirects(t *testing.T) {
	html := `<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=abc">Example <b>Page</b></a>
<a class="result__snippet" href="#">A sample <b>snippet</b>.</a>`
	results, err := extractDDGResults(html, 5)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].URL != "https://example.com/page" {
		t.Fatalf("url = %q", results[0].URL)
	}
	if results[0].Title != "Example Page" {
		t.Fatalf("title = %q", results[0].Title)
	}
	if !strings.Contains(results[0].Description, "sample snippet") {
		t.Fatalf("description = %q", results[0].Description)
	}
}

func TestCheckSSRFBlocksLoopback(t *testing.T) {
	if err := checkSSRF("http://localhost:8080/admin"); err == nil {
		t.Fatal("localhost should be blocked")
	}
	if err := checkSSRF("http://127.0.0.1/"); err == nil {
		t.Fatal("loopback IP should be blocked")
	}
	if err := checkSSRF("http://169.254.169.254/latest/meta-data"); err == nil {
		t.Fatal("link-local metadata IP should be blocked")
	}
}

func TestFetchJsPageToolValidatesArgs(t *testing.T) {
	tool := NewFetchJsPageTool(FetchConfig{})
	if res := tool.Execute(context.Background(), map[string]interface{}{}); !res.IsError {
		t.Error("missing url accepted")
	}
	if res := tool.Execute(context.Background(), map[string]interface{}{"url": "ftp://host/file"}); !res.IsError {
		t.Error("non-http scheme accepted")
	}
	if err := tool.Close(); err != nil {
		t.Errorf("close without browser: %v", err)
	}
}
