package clirun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

func TestRingBufferTrims(t *testing.T) {
	r := newRingBuffer(10, nil)
	if _, err := r.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if got := r.String(); got != "6789abcdef" {
		t.Fatalf("buf = %q", got)
	}
	if r.TotalLen() != 16 {
		t.Fatalf("total = %d", r.TotalLen())
	}
}

func TestDetectOutputFiles(t *testing.T) {
	ws := t.TempDir()
	pre := filepath.Join(ws, "existing.txt")
	if err := os.WriteFile(pre, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	snapshot := snapshotFiles(ws)
	// Backdate the pre-existing file so the mtime layer ignores it.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(pre, old, old); err != nil {
		t.Fatal(err)
	}
	startedAt := time.Now().Add(-time.Minute)

	marker := filepath.Join(ws, "output", "report.pdf")
	mentioned := filepath.Join(ws, "output", "data.csv")
	fresh := filepath.Join(ws, "new.txt")
	ignored := filepath.Join(ws, "node_modules", "dep.js")
	for _, p := range []string{marker, mentioned, fresh, ignored} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stdout := fmt.Sprintf("done\n[FILE_GENERATED: %s]\nwrote %s.\n", marker, mentioned)
	files := detectOutputFiles(stdout, ws, snapshot, startedAt)

	got := make(map[string]bool)
	for _, f := range files {
		got[f.FullPath] = true
		if f.HumanSize == "" || f.Name == "" {
			t.Fatalf("incomplete report: %+v", f)
		}
	}
	for _, want := range []string{marker, mentioned, fresh} {
		if !got[want] {
			t.Fatalf("missing %s in %v", want, files)
		}
	}
	if got[pre] {
		t.Fatal("pre-existing untouched file reported")
	}
	if got[ignored] {
		t.Fatal("excluded directory was scanned")
	}
}

func TestDetectTrimsTrailingPunctuation(t *testing.T) {
	ws := t.TempDir()
	p := filepath.Join(ws, "out.txt")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stdout := "saved to " + p + "."
	files := detectOutputFiles(stdout, "", nil, time.Now())
	// Without a workspace only the marker layer runs; mention layer needs
	// the workspace prefix.
	if len(files) != 0 {
		t.Fatalf("files = %v", files)
	}
	files = detectOutputFiles(stdout, ws, map[string]struct{}{p: {}}, time.Now().Add(time.Hour))
	found := false
	for _, f := range files {
		if f.FullPath == p {
			found = true
		}
	}
	if !found {
		t.Fatalf("punctuation-trimmed path not detected: %v", files)
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	m := NewManager(cfg, stores.Executions, stores.Delivery, nil, nil)
	return m, stores
}

func waitForStatus(t *testing.T, m *Manager, id, want string) *store.ExecutionRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := m.Status(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rec != nil && rec.Status == want {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached %s", id, want)
	return nil
}

func TestStartRunsAndDetectsFiles(t *testing.T) {
	ws := t.TempDir()
	m, stores := newTestManager(t, Config{})

	cmd := `mkdir -p output && echo hello > output/result.txt && echo "[FILE_GENERATED: $PWD/output/result.txt]"`
	id, err := m.Start(context.Background(), StartRequest{
		CLIType:       "opencode",
		Command:       cmd,
		WorkspacePath: ws,
		UserID:        "u1",
		AccountID:     "acc1",
		Recipient:     "123@c.us",
		Platform:      "whatsapp",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := waitForStatus(t, m, id, store.ExecCompleted)
	if len(rec.OutputFiles) == 0 || rec.OutputFiles[0] != "result.txt" {
		t.Fatalf("output files = %v", rec.OutputFiles)
	}
	if rec.StdoutLength == 0 {
		t.Fatal("stdout length not recorded")
	}

	// Direct delivery: one media item plus the summary text.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ = m.Status(context.Background(), id)
		if rec.DeliveryStatus == store.DeliveryDelivered {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if rec.DeliveryStatus != store.DeliveryDelivered {
		t.Fatalf("delivery status = %s", rec.DeliveryStatus)
	}
	items := stores.Delivery.(interface{ Items() []store.DeliveryItem }).Items()
	if len(items) != 2 {
		t.Fatalf("delivery items = %d", len(items))
	}
	if items[0].ContentType != "media" {
		t.Fatalf("first item = %+v", items[0])
	}
	if !strings.Contains(items[1].Content, "result.txt") {
		t.Fatalf("summary = %q", items[1].Content)
	}
}

func TestStartFailureRecordsError(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	id, err := m.Start(context.Background(), StartRequest{
		CLIType:       "claude",
		Command:       "echo broken >&2; exit 3",
		WorkspacePath: t.TempDir(),
		UserID:        "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := waitForStatus(t, m, id, store.ExecFailed)
	if !strings.Contains(rec.Error, "exit status 3") {
		t.Fatalf("error = %q", rec.Error)
	}
	if rec.DeliveryStatus != store.DeliveryNotNeeded {
		t.Fatalf("delivery status = %s", rec.DeliveryStatus)
	}
}

func TestConcurrencyCap(t *testing.T) {
	m, stores := newTestManager(t, Config{MaxConcurrentPerUser: 2})
	for i := 0; i < 2; i++ {
		rec := &store.ExecutionRecord{
			TrackingID: fmt.Sprintf("t-%d", i),
			UserID:     "u1",
			Status:     store.ExecRunning,
			StartedAt:  time.Now(),
		}
		if err := stores.Executions.Insert(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	_, err := m.Start(context.Background(), StartRequest{
		CLIType: "gemini", Command: "echo hi", WorkspacePath: t.TempDir(), UserID: "u1",
	})
	if err == nil || !strings.Contains(err.Error(), "concurrency limit") {
		t.Fatalf("err = %v", err)
	}
}

func TestCancelKillsProcess(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	id, err := m.Start(context.Background(), StartRequest{
		CLIType: "claude", Command: "sleep 30", WorkspacePath: t.TempDir(), UserID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(id); err != nil {
		t.Fatal(err)
	}
	rec := waitForStatus(t, m, id, store.ExecCancelled)
	if !strings.Contains(rec.Error, "cancelled") {
		t.Fatalf("error = %q", rec.Error)
	}
	if m.RunningCount() != 0 {
		t.Fatalf("running = %d", m.RunningCount())
	}
}

func TestStaleKill(t *testing.T) {
	m, _ := newTestManager(t, Config{StaleTick: 50 * time.Millisecond})
	id, err := m.Start(context.Background(), StartRequest{
		CLIType:        "claude",
		Command:        "sleep 30",
		WorkspacePath:  t.TempDir(),
		UserID:         "u1",
		StaleThreshold: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := waitForStatus(t, m, id, store.ExecStaleKilled)
	if !strings.Contains(rec.Error, "stale") {
		t.Fatalf("error = %q", rec.Error)
	}
}

func TestRecoverMarksInterrupted(t *testing.T) {
	m, stores := newTestManager(t, Config{})
	rec := &store.ExecutionRecord{
		TrackingID: "orphan-1",
		CLIType:    "claude",
		UserID:     "u1",
		AccountID:  "acc1",
		ExternalID: "123@c.us",
		Platform:   "whatsapp",
		Status:     store.ExecRunning,
		StartedAt:  time.Now().Add(-time.Hour),
	}
	if err := stores.Executions.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if err := m.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := m.Status(context.Background(), "orphan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.ExecFailed || !strings.Contains(got.Error, "interrupted by restart") {
		t.Fatalf("rec = %+v", got)
	}
	items := stores.Delivery.(interface{ Items() []store.DeliveryItem }).Items()
	if len(items) != 1 || !strings.Contains(items[0].Content, "interrupted") {
		t.Fatalf("items = %+v", items)
	}
}

func TestRecallModePreferred(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	recalled := make(chan string, 1)
	m.SetRecall(func(_ context.Context, rec *store.ExecutionRecord, summary string, _ []FileReport) error {
		recalled <- summary
		return nil
	})

	id, err := m.Start(context.Background(), StartRequest{
		CLIType:        "claude",
		Command:        "echo done",
		WorkspacePath:  t.TempDir(),
		UserID:         "u1",
		AgentID:        "agent-1",
		ConversationID: "conv-1",
		AccountID:      "acc1",
		Recipient:      "123@c.us",
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case summary := <-recalled:
		if !strings.Contains(summary, "finished") {
			t.Fatalf("summary = %q", summary)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("recall was not invoked")
	}
	rec := waitForStatus(t, m, id, store.ExecCompleted)
	if rec.DeliveryStatus != store.DeliveryDelivered {
		t.Fatalf("delivery = %s", rec.DeliveryStatus)
	}
}

func TestConcurrencyCapUnderConcurrentStarts(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrentPerUser: 2})

	const attempts = 5
	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Start(context.Background(), StartRequest{
				CLIType: "claude", Command: "sleep 5", WorkspacePath: t.TempDir(), UserID: "u1",
			})
			results <- outcome{id: id, err: err}
		}()
	}
	wg.Wait()
	close(results)

	started, limited := 0, 0
	for r := range results {
		switch {
		case r.err == nil:
			started++
			defer m.Cancel(r.id)
		case errors.Is(r.err, ErrConcurrencyLimit):
			limited++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	if started != 2 || limited != 3 {
		t.Fatalf("started = %d, limited = %d", started, limited)
	}
}

type captureBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *captureBus) Subscribe(string, bus.EventHandler) {}
func (c *captureBus) Unsubscribe(string)                 {}
func (c *captureBus) Broadcast(e bus.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureBus) find(name string) (protocol.ExecEventPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Name == name {
			if p, ok := e.Payload.(protocol.ExecEventPayload); ok {
				return p, true
			}
		}
	}
	return protocol.ExecEventPayload{}, false
}

func TestCompletionEventCarriesFinalStatus(t *testing.T) {
	stores := store.NewMemoryStores()
	events := &captureBus{}
	m := NewManager(Config{}, stores.Executions, stores.Delivery, events, nil)

	id, err := m.Start(context.Background(), StartRequest{
		CLIType: "claude", Command: "echo ok", WorkspacePath: t.TempDir(), UserID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, m, id, store.ExecCompleted)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if p, ok := events.find(protocol.EventExecCompleted); ok {
			if p.TrackingID != id {
				t.Fatalf("tracking id = %s, want %s", p.TrackingID, id)
			}
			if p.Status != store.ExecCompleted {
				t.Fatalf("event status = %q, want %q", p.Status, store.ExecCompleted)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("completion event not broadcast")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
