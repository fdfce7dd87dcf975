package cmd

import (
	"testing"

	"github.com/nextlevelbuilder/superbrain/internal/config"
	"github.com/nextlevelbuilder/superbrain/internal/enrich"
)

func TestBuildTranscribersLocalFirst(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := config.Default()
	cfg.Enrich.WhisperCommand = "whisper-cli"

	transcribers := buildTranscribers(cfg)
	if len(transcribers) != 2 {
		t.Fatalf("transcribers = %d, want 2", len(transcribers))
	}
	if _, ok := transcribers[0].(*enrich.CommandTranscriber); !ok {
		t.Fatalf("first transcriber = %T, want local command", transcribers[0])
	}
	if _, ok := transcribers[1].(*enrich.OpenAITranscriber); !ok {
		t.Fatalf("second transcriber = %T, want cloud fallback", transcribers[1])
	}
}

func TestBuildTranscribersCloudOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := config.Default()

	transcribers := buildTranscribers(cfg)
	if len(transcribers) != 1 {
		t.Fatalf("transcribers = %d, want 1", len(transcribers))
	}
	if _, ok := transcribers[0].(*enrich.OpenAITranscriber); !ok {
		t.Fatalf("transcriber = %T", transcribers[0])
	}
}
