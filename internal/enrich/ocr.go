package enrich

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// MinOCRConfidence is the acceptance floor for extracted text.
const MinOCRConfidence = 0.30

// OCREngine recognizes text in an image file. Confidence is in [0,1].
type OCREngine interface {
	Recognize(ctx context.Context, imagePath string) (text string, confidence float64, err error)
}

// CommandOCR shells out to a Tesseract-compatible binary. TSV output
// carries per-word confidences; their mean becomes the result confidence.
type CommandOCR struct {
	command string
}

func NewCommandOCR(command string) *CommandOCR {
	if command == "" {
		command = "tesseract"
	}
	return &CommandOCR{command: command}
}

// Available reports whether the OCR binary is on PATH.
func (o *CommandOCR) Available() bool {
	_, err := exec.LookPath(o.command)
	return err == nil
}

func (o *CommandOCR) Recognize(ctx context.Context, imagePath string) (string, float64, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", 0, fmt.Errorf("image not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, o.command, imagePath, "stdout", "tsv")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", 0, fmt.Errorf("%s: %s", o.command, strings.TrimSpace(stderr.String()))
	}
	text, conf := parseTesseractTSV(stdout.String())
	return text, conf, nil
}

// parseTesseractTSV collects recognized words and averages their
// confidence. TSV columns: level ... conf text (conf -1 = non-word row).
func parseTesseractTSV(tsv string) (string, float64) {
	lines := strings.Split(tsv, "\n")
	var words []string
	var confSum float64
	var confCount int
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		confSum += conf
		confCount++
	}
	if confCount == 0 {
		return "", 0
	}
	return strings.Join(words, " "), confSum / float64(confCount) / 100.0
}
