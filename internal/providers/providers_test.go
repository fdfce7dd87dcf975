package providers

import (
	"strings"
	"testing"
)

func TestFlattenMessages(t *testing.T) {
	msgs := []Message{
		System("You are terse."),
		User("hello"),
		{Role: "assistant", Content: "hi"},
		User("how are you?"),
	}
	got := flattenMessages(msgs)
	if !strings.HasPrefix(got, "You are terse.") {
		t.Fatalf("system prompt not first:\n%s", got)
	}
	for _, want := range []string{"User: hello", "Assistant: hi", "User: how are you?"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestNewCLIProviderTemplates(t *testing.T) {
	for _, cliType := range []string{"claude", "gemini", "opencode"} {
		p, err := NewCLIProvider("cli-"+cliType, cliType, "", nil)
		if err != nil {
			t.Fatalf("%s: %v", cliType, err)
		}
		if p.Name() != "cli-"+cliType {
			t.Fatalf("name = %s", p.Name())
		}
		found := false
		for _, part := range p.command {
			if part == "{PROMPT}" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s template has no prompt slot: %v", cliType, p.command)
		}
	}

	if _, err := NewCLIProvider("x", "unknown-cli", "", nil); err == nil {
		t.Fatal("unknown cli type should fail")
	}

	// Custom command overrides the template.
	p, err := NewCLIProvider("custom", "claude", "opus", []string{"mycli", "--ask", "{PROMPT}"})
	if err != nil {
		t.Fatal(err)
	}
	if p.command[0] != "mycli" {
		t.Fatalf("custom command ignored: %v", p.command)
	}
	if p.DefaultModel() != "opus" {
		t.Fatalf("model = %s", p.DefaultModel())
	}
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	t.Setenv("SUPERBRAIN_TEST_EMPTY_KEY", "")
	if _, err := NewOpenAIProvider("remote", "", "SUPERBRAIN_TEST_EMPTY_KEY", "gpt-4o-mini", false); err == nil {
		t.Fatal("empty key env should fail")
	}

	t.Setenv("SUPERBRAIN_TEST_KEY", "sk-test")
	p, err := NewOpenAIProvider("remote-free", "https://openrouter.ai/api/v1", "SUPERBRAIN_TEST_KEY", "meta-llama/llama-3-8b", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Free() || p.DefaultModel() != "meta-llama/llama-3-8b" {
		t.Fatalf("provider misconfigured: %+v", p)
	}
}
