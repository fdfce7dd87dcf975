package enrich

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func TestParseTesseractTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t",
		"5\t1\t1\t1\t1\t1\t0\t0\t40\t10\t90\thello",
		"5\t1\t1\t1\t1\t2\t45\t0\t40\t10\t70\tworld",
		"5\t1\t1\t1\t1\t3\t90\t0\t10\t10\t80\t ",
	}, "\n")

	text, conf := parseTesseractTSV(tsv)
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if conf < 0.79 || conf > 0.81 {
		t.Fatalf("conf = %f, want mean of 90 and 70 scaled to 0.80", conf)
	}
}

func TestParseTesseractTSVEmpty(t *testing.T) {
	text, conf := parseTesseractTSV("level\t...\tconf\ttext\n")
	if text != "" || conf != 0 {
		t.Fatalf("got %q / %f, want empty", text, conf)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractSpreadsheet(t *testing.T) {
	data := buildZip(t, map[string]string{
		"xl/sharedStrings.xml": `<?xml version="1.0"?>
<sst><si><t>Name</t></si><si><t>Amount</t></si><si><t>Coffee</t></si></sst>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet><sheetData>
<row><c t="s"><v>0</v></c><c t="s"><v>1</v></c></row>
<row><c t="s"><v>2</v></c><c><v>4.50</v></c></row>
<row><c t="inlineStr"><is><t>Tea</t></is></c><c><v>3.00</v></c></row>
</sheetData></worksheet>`,
	})

	ex, err := ExtractSpreadsheet(data, 50, 3000)
	if err != nil {
		t.Fatal(err)
	}
	want := "Name|Amount\nCoffee|4.50\nTea|3.00"
	if ex.Text != want {
		t.Fatalf("text = %q, want %q", ex.Text, want)
	}
	if ex.Truncated || ex.Kind != "spreadsheet" {
		t.Fatalf("extracted = %+v", ex)
	}
}

func TestExtractSpreadsheetRowCap(t *testing.T) {
	var rows strings.Builder
	for i := 0; i < 5; i++ {
		rows.WriteString(`<row><c><v>1</v></c></row>`)
	}
	data := buildZip(t, map[string]string{
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData>` + rows.String() + `</sheetData></worksheet>`,
	})

	ex, err := ExtractSpreadsheet(data, 2, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if !ex.Truncated {
		t.Fatal("expected truncation past the row cap")
	}
	if got := strings.Count(ex.Text, "\n") + 1; got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
}

func TestExtractDocx(t *testing.T) {
	data := buildZip(t, map[string]string{
		"word/document.xml": `<?xml version="1.0"?>
<document><body>
<p><r><t>First </t></r><r><t>paragraph.</t></r></p>
<p><r><t>Second.</t></r></p>
</body></document>`,
	})

	ex, err := ExtractDocx(data, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "First paragraph.\nSecond." {
		t.Fatalf("text = %q", ex.Text)
	}
}

func TestExtractCSV(t *testing.T) {
	ex, err := ExtractCSV([]byte("name,qty\napple,3\nbanana,5\n"), 50, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "name|qty\napple|3\nbanana|5" {
		t.Fatalf("text = %q", ex.Text)
	}
}

func TestExtractPlainTextTruncates(t *testing.T) {
	ex, err := ExtractPlainText([]byte(strings.Repeat("a", 100)), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Text) != 10 || !ex.Truncated {
		t.Fatalf("extracted = %+v", ex)
	}
}

// --- orchestrator fakes ---

type fakeOCR struct {
	text  string
	conf  float64
	err   error
	calls int
}

func (f *fakeOCR) Recognize(context.Context, string) (string, float64, error) {
	f.calls++
	return f.text, f.conf, f.err
}

type fakeCaptioner struct {
	caption string
	err     error
	calls   int
}

func (f *fakeCaptioner) Caption(context.Context, string, []byte) (string, error) {
	f.calls++
	return f.caption, f.err
}

func (f *fakeCaptioner) Name() string { return "fake-vision" }

type fakeModel struct {
	reply string
	err   error
}

func (f *fakeModel) ChatText(_ context.Context, _ string) (string, string, string, error) {
	return f.reply, "fake", "fake-model", f.err
}

type fakeTranscriber struct {
	name      string
	text      string
	err       error
	available bool
	calls     int
}

func (f *fakeTranscriber) Available() bool { return f.available }
func (f *fakeTranscriber) Name() string    { return f.name }

func (f *fakeTranscriber) Transcribe(_ context.Context, _, language string) (*Transcription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Transcription{Text: f.text, Provider: f.name, Model: "m", Language: language}, nil
}

type recordingMessages struct {
	mu       sync.Mutex
	content  map[string]string
	analysis map[string]map[string]any
}

func newRecordingMessages() *recordingMessages {
	return &recordingMessages{content: map[string]string{}, analysis: map[string]map[string]any{}}
}

func (r *recordingMessages) SaveAnalysis(_ context.Context, id, content string, analysis map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content[id] = content
	r.analysis[id] = analysis
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*store.MediaCacheEntry
}

func newMemCache() *memCache { return &memCache{entries: map[string]*store.MediaCacheEntry{}} }

func (c *memCache) Get(_ context.Context, hash, kind string) (*store.MediaCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[hash+"/"+kind], nil
}

func (c *memCache) Put(_ context.Context, e *store.MediaCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Hash+"/"+e.Kind] = e
	return nil
}

func writeMedia(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func imageMessage(path string) *bus.Message {
	return &bus.Message{
		ID:          "msg-1",
		Platform:    "whatsapp",
		From:        "123@s.whatsapp.net",
		ContentType: bus.ContentImage,
		MediaURL:    path,
		MimeType:    "image/png",
	}
}

func allOn() *store.UserSettings {
	s := store.DefaultUserSettings("u1")
	return s
}

func TestEnrichImageOCRWins(t *testing.T) {
	path := writeMedia(t, "img.png", []byte("pixels"))
	ocr := &fakeOCR{text: "total due 42", conf: 0.9}
	vis := &fakeCaptioner{caption: "a receipt"}
	msgs := newRecordingMessages()

	e := New(ocr, NewVisionChain(nil, vis), nil, &fakeModel{reply: "Total due: 42"},
		msgs, newMemCache(), Config{}, nil)

	out, err := e.Run(context.Background(), imageMessage(path), allOn())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied || out.AnalysisType != "ocr" {
		t.Fatalf("outcome = %+v", out)
	}
	want := OCRPrefix + "Total due: 42"
	if msgs.content["msg-1"] != want {
		t.Fatalf("persisted = %q, want %q", msgs.content["msg-1"], want)
	}
	if vis.calls != 0 {
		t.Fatal("vision called although OCR succeeded")
	}
	if msgs.analysis["msg-1"]["analysisType"] != "ocr" {
		t.Fatalf("analysis = %v", msgs.analysis["msg-1"])
	}
}

func TestEnrichImageFallsBackToVision(t *testing.T) {
	path := writeMedia(t, "img.png", []byte("pixels"))
	ocr := &fakeOCR{text: "x", conf: 0.1} // under the acceptance floor
	vis := &fakeCaptioner{caption: "a sunset over the harbor"}
	msgs := newRecordingMessages()

	e := New(ocr, NewVisionChain(nil, vis), nil, nil, msgs, newMemCache(), Config{}, nil)

	out, err := e.Run(context.Background(), imageMessage(path), allOn())
	if err != nil {
		t.Fatal(err)
	}
	if out.AnalysisType != "vision" {
		t.Fatalf("type = %s", out.AnalysisType)
	}
	if !strings.HasPrefix(msgs.content["msg-1"], VisionPrefix) {
		t.Fatalf("content = %q", msgs.content["msg-1"])
	}
}

func TestEnrichImageSkipsWhenCaptioned(t *testing.T) {
	path := writeMedia(t, "img.png", []byte("pixels"))
	ocr := &fakeOCR{text: "ignored", conf: 0.9}
	e := New(ocr, nil, nil, nil, newRecordingMessages(), newMemCache(), Config{}, nil)

	msg := imageMessage(path)
	msg.Content = "look at this screenshot of my invoice"
	out, err := e.Run(context.Background(), msg, allOn())
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied || ocr.calls != 0 {
		t.Fatalf("enrichment ran on an already captioned image: %+v", out)
	}
}

func TestEnrichImageUsesCache(t *testing.T) {
	path := writeMedia(t, "img.png", []byte("pixels"))
	ocr := &fakeOCR{text: "hello", conf: 0.9}
	cache := newMemCache()
	msgs := newRecordingMessages()
	e := New(ocr, nil, nil, nil, msgs, cache, Config{}, nil)

	if _, err := e.Run(context.Background(), imageMessage(path), allOn()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), imageMessage(path), allOn()); err != nil {
		t.Fatal(err)
	}
	if ocr.calls != 1 {
		t.Fatalf("ocr calls = %d, want cached second run", ocr.calls)
	}
}

func TestEnrichVoice(t *testing.T) {
	path := writeMedia(t, "note.ogg", []byte("audio"))
	local := &fakeTranscriber{name: "local", available: false}
	cloud := &fakeTranscriber{name: "cloud", available: true, text: "call me back"}
	msgs := newRecordingMessages()

	e := New(nil, nil, NewTranscriberChain(local, cloud), nil, msgs, newMemCache(), Config{}, nil)

	msg := imageMessage(path)
	msg.ContentType = bus.ContentVoice
	out, err := e.Run(context.Background(), msg, allOn())
	if err != nil {
		t.Fatal(err)
	}
	if out.AnalysisType != "voice" {
		t.Fatalf("type = %s", out.AnalysisType)
	}
	if local.calls != 0 || cloud.calls != 1 {
		t.Fatalf("calls = %d/%d, unavailable transcriber must be skipped", local.calls, cloud.calls)
	}
	if msgs.content["msg-1"] != VoicePrefix+"call me back" {
		t.Fatalf("content = %q", msgs.content["msg-1"])
	}
	if msg.Meta()["transcriptionProvider"] != "cloud" {
		t.Fatalf("metadata = %v", msg.Metadata)
	}
}

func TestEnrichDocument(t *testing.T) {
	path := writeMedia(t, "list.csv", []byte("a,b\n1,2\n"))
	msgs := newRecordingMessages()
	e := New(nil, nil, nil, nil, msgs, newMemCache(), Config{}, nil)

	msg := imageMessage(path)
	msg.ContentType = bus.ContentDocument
	msg.MimeType = "text/csv"
	out, err := e.Run(context.Background(), msg, allOn())
	if err != nil {
		t.Fatal(err)
	}
	if out.AnalysisType != "document" {
		t.Fatalf("type = %s", out.AnalysisType)
	}
	if msgs.content["msg-1"] != "a|b\n1|2" {
		t.Fatalf("content = %q", msgs.content["msg-1"])
	}
}

func TestEnrichRespectsToggles(t *testing.T) {
	path := writeMedia(t, "img.png", []byte("pixels"))
	ocr := &fakeOCR{text: "hello", conf: 0.9}
	e := New(ocr, nil, nil, nil, newRecordingMessages(), newMemCache(), Config{}, nil)

	s := allOn()
	s.OCREnabled = false
	s.VisionEnabled = false
	out, err := e.Run(context.Background(), imageMessage(path), s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied || ocr.calls != 0 {
		t.Fatal("disabled enricher still ran")
	}
}

func TestTranscriberChainFallsThroughErrors(t *testing.T) {
	first := &fakeTranscriber{name: "a", available: true, err: errors.New("boom")}
	second := &fakeTranscriber{name: "b", available: true, text: "ok"}
	chain := NewTranscriberChain(first, second)

	tr, err := chain.Transcribe(context.Background(), "/tmp/x.ogg", "")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Provider != "b" || first.calls != 1 {
		t.Fatalf("tr = %+v", tr)
	}
}
