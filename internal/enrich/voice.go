package enrich

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Transcription, error)
	Name() string
}

// Transcription is the result of one speech-to-text run.
type Transcription struct {
	Text     string
	Provider string
	Model    string
	Language string
}

// CommandTranscriber shells out to a local whisper-compatible binary.
type CommandTranscriber struct {
	command string
	model   string
}

func NewCommandTranscriber(command, model string) *CommandTranscriber {
	if command == "" {
		command = "whisper-cli"
	}
	return &CommandTranscriber{command: command, model: model}
}

func (t *CommandTranscriber) Name() string { return "local-whisper" }

// Available checks the binary and, when a model path is configured, the
// model file. Prerequisites must check out before the local path is tried.
func (t *CommandTranscriber) Available() bool {
	if _, err := exec.LookPath(t.command); err != nil {
		return false
	}
	if t.model != "" {
		if _, err := os.Stat(t.model); err != nil {
			return false
		}
	}
	return true
}

func (t *CommandTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*Transcription, error) {
	args := []string{"-f", audioPath, "--no-timestamps"}
	if t.model != "" {
		args = append(args, "-m", t.model)
	}
	if language != "" {
		args = append(args, "-l", language)
	}
	cmd := exec.CommandContext(ctx, t.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %s", t.command, strings.TrimSpace(stderr.String()))
	}
	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, fmt.Errorf("empty transcription")
	}
	return &Transcription{Text: text, Provider: t.Name(), Model: t.model, Language: language}, nil
}

// OpenAITranscriber is the cloud fallback (whisper API or compatible).
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, baseURL, model string) *OpenAITranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: openai.NewClientWithConfig(cfg), model: model}
}

func (t *OpenAITranscriber) Name() string { return "openai-whisper" }

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath, language string) (*Transcription, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud transcription: %w", err)
	}
	if resp.Text == "" {
		return nil, fmt.Errorf("empty transcription")
	}
	return &Transcription{Text: resp.Text, Provider: t.Name(), Model: t.model, Language: language}, nil
}

// TranscriberChain prefers the local engine when its prerequisites check
// out, falling back through the rest.
type TranscriberChain struct {
	transcribers []Transcriber
}

func NewTranscriberChain(transcribers ...Transcriber) *TranscriberChain {
	return &TranscriberChain{transcribers: transcribers}
}

func (c *TranscriberChain) Transcribe(ctx context.Context, audioPath, language string) (*Transcription, error) {
	var lastErr error
	for _, t := range c.transcribers {
		if a, ok := t.(interface{ Available() bool }); ok && !a.Available() {
			continue
		}
		tr, err := t.Transcribe(ctx, audioPath, language)
		if err != nil {
			lastErr = err
			continue
		}
		return tr, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no transcribers available")
	}
	return nil, lastErr
}
