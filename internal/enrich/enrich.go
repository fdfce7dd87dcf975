package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Content prefixes persisted by the enrichers.
const (
	OCRPrefix   = "[Image Text OCR]: "
	VisionPrefix = "[Image Description]: "
	VoicePrefix = "[Voice Transcription]: "
)

// visionTextMax: images with a real caption already skip enrichment.
const visionTextMax = 10

// TextModel is the cheap text surface used for the OCR cleanup pass.
// Implemented by router.Router.
type TextModel interface {
	ChatText(ctx context.Context, prompt string) (content, provider, model string, err error)
}

// Outcome reports what an enricher did to the message.
type Outcome struct {
	Applied      bool
	AnalysisType string // ocr | vision | document | voice
	Pending      string // analysis response held until flows are consulted
}

// Config caps document extraction.
type Config struct {
	MaxDocumentChars int
	SpreadsheetRows  int
}

// Enricher runs the automatic media enrichment steps. Every dependency is
// optional; a missing one disables the corresponding enricher.
type Enricher struct {
	ocr      OCREngine
	vision   *VisionChain
	voice    *TranscriberChain
	cleanup  TextModel
	messages store.MessageStore
	cache    store.MediaCacheStore
	cfg      Config
	log      *slog.Logger

	httpClient *http.Client
}

func New(ocr OCREngine, vision *VisionChain, voice *TranscriberChain, cleanup TextModel,
	messages store.MessageStore, cache store.MediaCacheStore, cfg Config, log *slog.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = DefaultMaxDocumentChars
	}
	if cfg.SpreadsheetRows <= 0 {
		cfg.SpreadsheetRows = DefaultSpreadsheetRows
	}
	return &Enricher{
		ocr:        ocr,
		vision:     vision,
		voice:      voice,
		cleanup:    cleanup,
		messages:   messages,
		cache:      cache,
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run applies the enrichers in order (image, document, voice) according
// to the user's toggles. At most one enricher fires per message.
func (e *Enricher) Run(ctx context.Context, msg *bus.Message, settings *store.UserSettings) (*Outcome, error) {
	switch msg.ContentType {
	case bus.ContentImage:
		if utf8.RuneCountInString(strings.TrimSpace(msg.Content)) >= visionTextMax {
			return &Outcome{}, nil
		}
		if settings.OCREnabled || settings.VisionEnabled {
			return e.enrichImage(ctx, msg, settings)
		}
	case bus.ContentDocument:
		if settings.DocumentEnabled {
			return e.enrichDocument(ctx, msg)
		}
	case bus.ContentVoice, bus.ContentAudio:
		if settings.VoiceEnabled {
			return e.enrichVoice(ctx, msg, settings.VoiceLanguage)
		}
	}
	return &Outcome{}, nil
}

func (e *Enricher) enrichImage(ctx context.Context, msg *bus.Message, settings *store.UserSettings) (*Outcome, error) {
	data, path, cleanup, err := e.fetchMedia(ctx, msg.MediaURL)
	if err != nil {
		return &Outcome{}, fmt.Errorf("fetch image: %w", err)
	}
	defer cleanup()
	hash := contentHash(data)

	// OCR first; vision only when OCR yields nothing usable.
	if settings.OCREnabled && e.ocr != nil {
		if text, ok := e.cachedText(ctx, hash, "ocr"); ok {
			return e.apply(ctx, msg, "ocr", OCRPrefix+text, hash, "", "")
		}
		text, conf, err := e.ocr.Recognize(ctx, path)
		if err != nil {
			e.log.Warn("enrich.ocr_failed", "message", msg.ID, "error", err)
		} else if conf >= MinOCRConfidence && strings.TrimSpace(text) != "" {
			cleaned := e.cleanOCRText(ctx, text)
			e.putCache(ctx, hash, "ocr", cleaned)
			return e.apply(ctx, msg, "ocr", OCRPrefix+cleaned, hash, "", "")
		}
	}

	if settings.VisionEnabled && e.vision != nil {
		if text, ok := e.cachedText(ctx, hash, "vision"); ok {
			return e.apply(ctx, msg, "vision", VisionPrefix+text, hash, "", "")
		}
		mimeType := msg.MimeType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		caption, captioner, err := e.vision.Caption(ctx, mimeType, data)
		if err != nil {
			return &Outcome{}, fmt.Errorf("vision caption: %w", err)
		}
		e.putCache(ctx, hash, "vision", caption)
		return e.apply(ctx, msg, "vision", VisionPrefix+caption, hash, captioner, "")
	}
	return &Outcome{}, nil
}

// cleanOCRText runs the AI cleanup pass: strip garbled sequences while
// preserving the original language. Raw text survives a cleanup failure.
func (e *Enricher) cleanOCRText(ctx context.Context, raw string) string {
	if e.cleanup == nil {
		return raw
	}
	prompt := "Clean up this OCR output. Remove garbled character sequences and artifacts. " +
		"Keep the original language and wording. Return only the cleaned text.\n\n" + raw
	cleaned, _, _, err := e.cleanup.ChatText(ctx, prompt)
	if err != nil || strings.TrimSpace(cleaned) == "" {
		e.log.Warn("enrich.ocr_cleanup_failed", "error", err)
		return raw
	}
	return strings.TrimSpace(cleaned)
}

func (e *Enricher) enrichDocument(ctx context.Context, msg *bus.Message) (*Outcome, error) {
	data, _, cleanup, err := e.fetchMedia(ctx, msg.MediaURL)
	if err != nil {
		return &Outcome{}, fmt.Errorf("fetch document: %w", err)
	}
	defer cleanup()
	hash := contentHash(data)

	if text, ok := e.cachedText(ctx, hash, "document"); ok {
		return e.apply(ctx, msg, "document", text, hash, "", "")
	}

	name := filepath.Base(msg.MediaURL)
	ex, err := ExtractDocument(name, msg.MimeType, data, e.cfg.SpreadsheetRows, e.cfg.MaxDocumentChars)
	if err != nil {
		return &Outcome{}, fmt.Errorf("extract document: %w", err)
	}
	e.putCache(ctx, hash, "document", ex.Text)

	outcome, err := e.apply(ctx, msg, "document", ex.Text, hash, "", ex.Kind)
	if err == nil && ex.Truncated {
		msg.Meta()["truncated"] = true
	}
	return outcome, err
}

func (e *Enricher) enrichVoice(ctx context.Context, msg *bus.Message, language string) (*Outcome, error) {
	if e.voice == nil {
		return &Outcome{}, nil
	}
	data, path, cleanup, err := e.fetchMedia(ctx, msg.MediaURL)
	if err != nil {
		return &Outcome{}, fmt.Errorf("fetch audio: %w", err)
	}
	defer cleanup()
	hash := contentHash(data)

	if text, ok := e.cachedText(ctx, hash, "voice"); ok {
		return e.apply(ctx, msg, "voice", VoicePrefix+text, hash, "", "")
	}

	tr, err := e.voice.Transcribe(ctx, path, language)
	if err != nil {
		return &Outcome{}, fmt.Errorf("transcribe: %w", err)
	}
	e.putCache(ctx, hash, "voice", tr.Text)

	meta := msg.Meta()
	meta["transcriptionProvider"] = tr.Provider
	meta["transcriptionModel"] = tr.Model
	if tr.Language != "" {
		meta["transcriptionLanguage"] = tr.Language
	}
	return e.apply(ctx, msg, "voice", VoicePrefix+tr.Text, hash, tr.Provider, "")
}

// apply mutates the message, records the analysis metadata and persists
// content and analysis in one write.
func (e *Enricher) apply(ctx context.Context, msg *bus.Message, analysisType, newContent, hash, provider, kind string) (*Outcome, error) {
	msg.Content = newContent
	meta := msg.Meta()
	meta["autoAnalyzed"] = true
	meta["analysisType"] = analysisType

	analysis := map[string]any{
		"autoAnalyzed": true,
		"analysisType": analysisType,
		"mediaHash":    hash,
	}
	if provider != "" {
		analysis["provider"] = provider
	}
	if kind != "" {
		analysis["documentKind"] = kind
	}
	if e.messages != nil {
		if err := e.messages.SaveAnalysis(ctx, msg.ID, newContent, analysis); err != nil {
			return &Outcome{}, fmt.Errorf("persist analysis: %w", err)
		}
	}
	return &Outcome{Applied: true, AnalysisType: analysisType, Pending: newContent}, nil
}

func (e *Enricher) cachedText(ctx context.Context, hash, kind string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	entry, err := e.cache.Get(ctx, hash, kind)
	if err != nil {
		e.log.Warn("enrich.cache_lookup_failed", "error", err)
		return "", false
	}
	if entry == nil {
		return "", false
	}
	return entry.Text, true
}

func (e *Enricher) putCache(ctx context.Context, hash, kind, text string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, &store.MediaCacheEntry{Hash: hash, Kind: kind, Text: text}); err != nil {
		e.log.Warn("enrich.cache_put_failed", "error", err)
	}
}

// fetchMedia loads the media bytes and guarantees a local file path for
// engines that need one. cleanup removes any temp file created here.
func (e *Enricher) fetchMedia(ctx context.Context, mediaURL string) (data []byte, path string, cleanup func(), err error) {
	cleanup = func() {}
	if mediaURL == "" {
		return nil, "", cleanup, fmt.Errorf("no media url")
	}

	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
		if err != nil {
			return nil, "", cleanup, err
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, "", cleanup, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", cleanup, fmt.Errorf("media fetch returned %d", resp.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, "", cleanup, err
		}
		tmp, err := os.CreateTemp("", "superbrain-media-*"+filepath.Ext(mediaURL))
		if err != nil {
			return nil, "", cleanup, err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, "", cleanup, err
		}
		tmp.Close()
		name := tmp.Name()
		return data, name, func() { os.Remove(name) }, nil
	}

	// Local path from the platform adapter.
	data, err = os.ReadFile(mediaURL)
	if err != nil {
		return nil, "", cleanup, err
	}
	return data, mediaURL, cleanup, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
