package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/superbrain/internal/providers"
)

// Captioner produces an image description.
type Captioner interface {
	Caption(ctx context.Context, mimeType string, data []byte) (string, error)
	Name() string
}

// ProviderCaptioner wraps a vision-capable provider and model.
type ProviderCaptioner struct {
	provider providers.Provider
	model    string
}

func NewProviderCaptioner(p providers.Provider, model string) *ProviderCaptioner {
	return &ProviderCaptioner{provider: p, model: model}
}

func (c *ProviderCaptioner) Name() string { return c.provider.Name() }

const captionPrompt = "Describe this image in two or three sentences. Mention any visible text, objects, people and the overall scene."

func (c *ProviderCaptioner) Caption(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := c.provider.Call(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{{
			Role:    "user",
			Content: captionPrompt,
			Images: []providers.ImageContent{{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		}},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("%s returned empty caption", c.provider.Name())
	}
	return resp.Content, nil
}

// VisionChain walks captioners in order until one answers. The usual
// order is local vision, remote free, remote paid.
type VisionChain struct {
	captioners []Captioner
	log        *slog.Logger
}

func NewVisionChain(log *slog.Logger, captioners ...Captioner) *VisionChain {
	if log == nil {
		log = slog.Default()
	}
	return &VisionChain{captioners: captioners, log: log}
}

func (v *VisionChain) Caption(ctx context.Context, mimeType string, data []byte) (string, string, error) {
	var lastErr error
	for _, c := range v.captioners {
		text, err := c.Caption(ctx, mimeType, data)
		if err != nil {
			v.log.Warn("enrich.vision_failed", "captioner", c.Name(), "error", err)
			lastErr = err
			continue
		}
		return text, c.Name(), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no vision captioners configured")
	}
	return "", "", lastErr
}
