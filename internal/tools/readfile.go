package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/superbrain/internal/enrich"
)

const maxReadFileBytes = 32 << 20 // refuse anything above 32 MiB

// fileReadTool is the shared implementation behind the five document
// readers. Each variant pins one extractor so the model can pick by type.
type fileReadTool struct {
	name        string
	description string
	maxRows     int
	maxChars    int
	extract     func(data []byte, maxRows, maxChars int) (*enrich.Extracted, error)
}

// ReadToolConfig caps extraction output.
type ReadToolConfig struct {
	MaxRows  int
	MaxChars int
}

func NewReadPdfTool(cfg ReadToolConfig) Tool {
	return &fileReadTool{
		name:        ToolReadPdf,
		description: "Read and extract text from a PDF file.",
		maxChars:    cfg.MaxChars,
		extract: func(data []byte, _, maxChars int) (*enrich.Extracted, error) {
			return enrich.ExtractPDF(data, maxChars)
		},
	}
}

func NewReadExcelTool(cfg ReadToolConfig) Tool {
	return &fileReadTool{
		name:        ToolReadExcel,
		description: "Read the first sheet of an Excel workbook as pipe-joined rows.",
		maxRows:     cfg.MaxRows,
		maxChars:    cfg.MaxChars,
		extract:     enrich.ExtractSpreadsheet,
	}
}

func NewReadDocxTool(cfg ReadToolConfig) Tool {
	return &fileReadTool{
		name:        ToolReadDocx,
		description: "Read and extract text from a Word document.",
		maxChars:    cfg.MaxChars,
		extract: func(data []byte, _, maxChars int) (*enrich.Extracted, error) {
			return enrich.ExtractDocx(data, maxChars)
		},
	}
}

func NewReadTextTool(cfg ReadToolConfig) Tool {
	return &fileReadTool{
		name:        ToolReadText,
		description: "Read a plain-text file.",
		maxChars:    cfg.MaxChars,
		extract: func(data []byte, _, maxChars int) (*enrich.Extracted, error) {
			return enrich.ExtractPlainText(data, maxChars)
		},
	}
}

func NewReadCsvTool(cfg ReadToolConfig) Tool {
	return &fileReadTool{
		name:        ToolReadCsv,
		description: "Read a CSV file as pipe-joined rows.",
		maxRows:     cfg.MaxRows,
		maxChars:    cfg.MaxChars,
		extract:     enrich.ExtractCSV,
	}
}

func (t *fileReadTool) Name() string        { return t.name }
func (t *fileReadTool) Description() string { return t.description }

func (t *fileReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path of the file to read.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *fileReadTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	if !filepath.IsAbs(path) {
		return ErrorResult("path must be absolute")
	}
	info, err := os.Stat(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("stat %s: %v", path, err)).WithError(err)
	}
	if !info.Mode().IsRegular() {
		return ErrorResult(fmt.Sprintf("%s is not a regular file", path))
	}
	if info.Size() > maxReadFileBytes {
		return ErrorResult(fmt.Sprintf("%s is too large (%d bytes)", path, info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)).WithError(err)
	}
	ex, err := t.extract(data, t.maxRows, t.maxChars)
	if err != nil {
		return ErrorResult(fmt.Sprintf("extract %s: %v", filepath.Base(path), err)).WithError(err)
	}

	res := NewResult(ex.Text).
		WithData("content", ex.Text).
		WithData("file", filepath.Base(path)).
		WithData("kind", ex.Kind)
	if ex.Truncated {
		res.WithData("truncated", true)
	}
	return res
}
