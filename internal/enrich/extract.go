// Package enrich implements automatic media enrichment: image OCR with AI
// cleanup, vision description fallback, document text extraction and voice
// transcription. Extractors are pure functions; the enrichers wire them to
// per-user settings and the media cache.
package enrich

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	// DefaultMaxDocumentChars caps extracted document text.
	DefaultMaxDocumentChars = 3000
	// DefaultSpreadsheetRows caps rows read from the first sheet.
	DefaultSpreadsheetRows = 50
)

// Extracted is the output of a document extractor.
type Extracted struct {
	Text      string
	Truncated bool
	Kind      string // pdf | spreadsheet | docx | csv | text
}

func truncateChars(s string, max int) (string, bool) {
	if max <= 0 {
		max = DefaultMaxDocumentChars
	}
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}

// ExtractPDF pulls plain text out of a PDF document.
func ExtractPDF(data []byte, maxChars int) (*Extracted, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("pdf contains no extractable text")
	}
	text, truncated := truncateChars(text, maxChars)
	return &Extracted{Text: text, Truncated: truncated, Kind: "pdf"}, nil
}

// xlsx internals: shared strings plus the first worksheet.

type xlsxSST struct {
	SI []struct {
		T string `xml:"t"`
		R []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type xlsxSheet struct {
	Rows []struct {
		Cells []struct {
			Type  string `xml:"t,attr"`
			Value string `xml:"v"`
			Is    struct {
				T string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// ExtractSpreadsheet reads the first sheet of an xlsx workbook, up to
// maxRows rows, cells joined with "|".
func ExtractSpreadsheet(data []byte, maxRows, maxChars int) (*Extracted, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	if maxRows <= 0 {
		maxRows = DefaultSpreadsheetRows
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, err
	}

	sheetData, err := readZipFile(zr, "xl/worksheets/sheet1.xml")
	if err != nil {
		return nil, fmt.Errorf("first sheet: %w", err)
	}
	var sheet xlsxSheet
	if err := xml.Unmarshal(sheetData, &sheet); err != nil {
		return nil, fmt.Errorf("parse sheet: %w", err)
	}

	var sb strings.Builder
	truncatedRows := false
	for i, row := range sheet.Rows {
		if i >= maxRows {
			truncatedRows = true
			break
		}
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			switch c.Type {
			case "s":
				idx, err := strconv.Atoi(c.Value)
				if err == nil && idx >= 0 && idx < len(shared) {
					cells = append(cells, shared[idx])
				} else {
					cells = append(cells, c.Value)
				}
			case "inlineStr":
				cells = append(cells, c.Is.T)
			default:
				cells = append(cells, c.Value)
			}
		}
		sb.WriteString(strings.Join(cells, "|"))
		sb.WriteString("\n")
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("spreadsheet is empty")
	}
	text, truncatedChars := truncateChars(text, maxChars)
	return &Extracted{Text: text, Truncated: truncatedRows || truncatedChars, Kind: "spreadsheet"}, nil
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	data, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		// Workbooks with only numeric/inline cells have no shared strings.
		return nil, nil
	}
	var sst xlsxSST
	if err := xml.Unmarshal(data, &sst); err != nil {
		return nil, fmt.Errorf("parse shared strings: %w", err)
	}
	out := make([]string, len(sst.SI))
	for i, si := range sst.SI {
		if si.T != "" {
			out[i] = si.T
			continue
		}
		var parts []string
		for _, r := range si.R {
			parts = append(parts, r.T)
		}
		out[i] = strings.Join(parts, "")
	}
	return out, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// docx: word/document.xml, paragraph runs concatenated.

type docxDocument struct {
	Paragraphs []struct {
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

// ExtractDocx pulls paragraph text out of a Word document.
func ExtractDocx(data []byte, maxChars int) (*Extracted, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	docData, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	var doc docxDocument
	if err := xml.Unmarshal(docData, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	var sb strings.Builder
	for _, p := range doc.Paragraphs {
		for _, r := range p.Runs {
			sb.WriteString(r.Text)
		}
		sb.WriteString("\n")
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("document contains no text")
	}
	text, truncated := truncateChars(text, maxChars)
	return &Extracted{Text: text, Truncated: truncated, Kind: "docx"}, nil
}

// ExtractCSV renders CSV rows "|"-joined, capped at maxRows.
func ExtractCSV(data []byte, maxRows, maxChars int) (*Extracted, error) {
	if maxRows <= 0 {
		maxRows = DefaultSpreadsheetRows
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var sb strings.Builder
	truncatedRows := false
	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if i >= maxRows {
			truncatedRows = true
			break
		}
		sb.WriteString(strings.Join(record, "|"))
		sb.WriteString("\n")
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("csv is empty")
	}
	text, truncatedChars := truncateChars(text, maxChars)
	return &Extracted{Text: text, Truncated: truncatedRows || truncatedChars, Kind: "csv"}, nil
}

// ExtractPlainText passes text through with the char cap applied.
func ExtractPlainText(data []byte, maxChars int) (*Extracted, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("file is empty")
	}
	text, truncated := truncateChars(text, maxChars)
	return &Extracted{Text: text, Truncated: truncated, Kind: "text"}, nil
}

// ExtractDocument dispatches on MIME type or file extension.
func ExtractDocument(name, mimeType string, data []byte, maxRows, maxChars int) (*Extracted, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case strings.Contains(mimeType, "pdf") || ext == ".pdf":
		return ExtractPDF(data, maxChars)
	case strings.Contains(mimeType, "spreadsheet") || ext == ".xlsx":
		return ExtractSpreadsheet(data, maxRows, maxChars)
	case strings.Contains(mimeType, "wordprocessingml") || ext == ".docx":
		return ExtractDocx(data, maxChars)
	case strings.Contains(mimeType, "csv") || ext == ".csv":
		return ExtractCSV(data, maxRows, maxChars)
	case strings.HasPrefix(mimeType, "text/") || ext == ".txt" || ext == ".md" || ext == ".log":
		return ExtractPlainText(data, maxChars)
	default:
		return nil, fmt.Errorf("unsupported document type %q (%s)", mimeType, ext)
	}
}
