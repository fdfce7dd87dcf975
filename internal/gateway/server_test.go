package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/classify"
	"github.com/nextlevelbuilder/superbrain/internal/clirun"
	"github.com/nextlevelbuilder/superbrain/internal/config"
	"github.com/nextlevelbuilder/superbrain/internal/gating"
	"github.com/nextlevelbuilder/superbrain/internal/pipeline"
	"github.com/nextlevelbuilder/superbrain/internal/router"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

type fakeModel struct{ reply string }

func (f *fakeModel) Process(context.Context, router.Request) (*router.Response, error) {
	return &router.Response{Content: f.reply, Provider: "fake", Model: "fake-m"}, nil
}

type fakeExecs struct {
	recs      map[string]*store.ExecutionRecord
	cancelled []string
	started   []clirun.StartRequest
	startErr  error
}

func (f *fakeExecs) Start(_ context.Context, req clirun.StartRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	id := bus.GenID().String()
	f.recs[id] = &store.ExecutionRecord{TrackingID: id, CLIType: req.CLIType, Status: store.ExecRunning}
	return id, nil
}

func (f *fakeExecs) Status(_ context.Context, id string) (*store.ExecutionRecord, error) {
	return f.recs[id], nil
}

func (f *fakeExecs) Cancel(id string) error {
	if _, ok := f.recs[id]; !ok {
		return errors.New("execution not running: " + id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExecs) RunningCount() int { return len(f.recs) }

func newTestServer(t *testing.T, execs ExecManager) (*Server, *bus.Hub) {
	t.Helper()
	stores := store.NewMemoryStores()
	pipe := pipeline.New(pipeline.Config{}, gating.New(stores.Gating, nil, nil), classify.New(nil, nil), stores, nil)
	pipe.SetDirectAI(&fakeModel{reply: "hello from the model"})
	hub := bus.NewHub()
	if execs == nil {
		execs = &fakeExecs{recs: map[string]*store.ExecutionRecord{}}
	}
	s := NewServer(config.GatewayConfig{}, pipe, execs, hub, nil)
	return s, hub
}

func postProcess(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/process", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeExecs{recs: map[string]*store.ExecutionRecord{
		"t1": {TrackingID: "t1", Status: store.ExecRunning},
	}})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Running int    `json:"running_executions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Running != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestProcessReturnsModelAnswer(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postProcess(t, ts, `{
		"message": {"id":"m1","platform":"whatsapp","from":"123","content":"hi there","content_type":"text"},
		"context": {"user_id":"u1"}
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res pipeline.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Type != protocol.ResultAIResponse || res.Response != "hello from the model" {
		t.Fatalf("res = %+v", res)
	}
}

func TestProcessRequiresUser(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postProcess(t, ts, `{"message":{"content":"hi"},"context":{}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProcessRejectsOversizedContent(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.cfg.MaxMessageChars = 10
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postProcess(t, ts, `{
		"message": {"content":"this message is well past the cap"},
		"context": {"user_id":"u1"}
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProcessRateLimited(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.limits = newVisitorLimiter(1, 1)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	body := `{"message":{"content":"hi"},"context":{"user_id":"u1"}}`
	first := postProcess(t, ts, body)
	io.Copy(io.Discard, first.Body)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", first.StatusCode)
	}
	second := postProcess(t, ts, body)
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.StatusCode)
	}
}

func TestExecutionStatusAndCancel(t *testing.T) {
	execs := &fakeExecs{recs: map[string]*store.ExecutionRecord{
		"t1": {TrackingID: "t1", CLIType: "claude", Status: store.ExecRunning},
	}}
	s, _ := newTestServer(t, execs)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/executions/t1")
	if err != nil {
		t.Fatal(err)
	}
	var rec store.ExecutionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if rec.TrackingID != "t1" || rec.Status != store.ExecRunning {
		t.Fatalf("rec = %+v", rec)
	}

	missing, err := http.Get(ts.URL + "/v1/executions/nope")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, missing.Body)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.StatusCode)
	}

	cancel, err := http.Post(ts.URL+"/v1/executions/t1/cancel", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, cancel.Body)
	cancel.Body.Close()
	if cancel.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d", cancel.StatusCode)
	}
	if len(execs.cancelled) != 1 || execs.cancelled[0] != "t1" {
		t.Fatalf("cancelled = %v", execs.cancelled)
	}
}

func TestFileServiceLinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("generated output"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := NewFileService("http://example.test", nil)
	s, _ := newTestServer(t, nil)
	s.SetFileService(fs)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	url, err := fs.Register(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token := url[strings.LastIndex(url, "/")+1:]

	resp, err := http.Get(ts.URL + "/files/" + token)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "generated output" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, data)
	}

	expiredURL, err := fs.Register(path, -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	expToken := expiredURL[strings.LastIndex(expiredURL, "/")+1:]
	exp, err := http.Get(ts.URL + "/files/" + expToken)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, exp.Body)
	exp.Body.Close()
	if exp.StatusCode != http.StatusNotFound {
		t.Fatalf("expired status = %d", exp.StatusCode)
	}
}

func TestFileServiceRejectsMissingPath(t *testing.T) {
	fs := NewFileService("http://example.test", nil)
	if _, err := fs.Register("/does/not/exist.txt", time.Hour); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	s, hub := newTestServer(t, nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Subscription registers inside the upgrade handler; give it a moment.
	deadline := time.Now().Add(5 * time.Second)
	var frame protocol.EventFrame
	for time.Now().Before(deadline) {
		hub.Broadcast(bus.Event{Name: protocol.EventExecStarted, Payload: map[string]any{"tracking_id": "t9"}})
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if err := conn.ReadJSON(&frame); err == nil {
			break
		}
	}
	if frame.Name != protocol.EventExecStarted || frame.Type != "event" {
		t.Fatalf("frame = %+v", frame)
	}

	payload, ok := frame.Payload.(map[string]any)
	if !ok || payload["tracking_id"] != "t9" {
		t.Fatalf("payload = %#v", frame.Payload)
	}
}

func TestCacheEventsNotForwarded(t *testing.T) {
	s, hub := newTestServer(t, nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	hub.Broadcast(bus.Event{Name: protocol.EventCacheInvalidate})
	hub.Broadcast(bus.Event{Name: protocol.EventExecCompleted})

	var frame protocol.EventFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Name != protocol.EventExecCompleted {
		t.Fatalf("first frame = %+v", frame)
	}
}

func TestVisitorLimiterDisabled(t *testing.T) {
	l := newVisitorLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter blocked a request")
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.cfg.AllowedOrigins = []string{"https://app.example.com"}

	mk := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		if got := s.checkOrigin(mk(tc.origin)); got != tc.want {
			t.Errorf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}
}

type fakeWorkspaces struct{ created []string }

func (f *fakeWorkspaces) Create(_ context.Context, userID, agentID, cliType string) (*store.WorkspaceRecord, error) {
	f.created = append(f.created, userID+"/"+agentID+"/"+cliType)
	return &store.WorkspaceRecord{
		UserID: userID, AgentID: agentID, CLIType: cliType,
		Path: "/srv/workspaces/" + userID + "/" + agentID,
	}, nil
}

func postExecution(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/executions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestExecutionStartLaunchesRun(t *testing.T) {
	execs := &fakeExecs{recs: map[string]*store.ExecutionRecord{}}
	ws := &fakeWorkspaces{}
	s, _ := newTestServer(t, execs)
	s.SetWorkspaces(ws)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postExecution(t, ts, `{
		"user_id": "u1", "cli_type": "claude",
		"command": "summarize the quarterly reports"
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		TrackingID string `json:"tracking_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.TrackingID == "" || body.Status != store.ExecRunning {
		t.Fatalf("body = %+v", body)
	}

	if len(ws.created) != 1 || ws.created[0] != "u1/default/claude" {
		t.Fatalf("workspaces created = %v", ws.created)
	}
	if len(execs.started) != 1 {
		t.Fatalf("started = %v", execs.started)
	}
	start := execs.started[0]
	if start.WorkspacePath != "/srv/workspaces/u1/default" || start.AgentID != "default" {
		t.Fatalf("start = %+v", start)
	}

	// The new run shows up on the status endpoint.
	status, err := http.Get(ts.URL + "/v1/executions/" + body.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, status.Body)
	status.Body.Close()
	if status.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d", status.StatusCode)
	}
}

func TestExecutionStartRequiresFields(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postExecution(t, ts, `{"user_id": "u1", "cli_type": "claude"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestExecutionStartConcurrencyLimited(t *testing.T) {
	execs := &fakeExecs{
		recs:     map[string]*store.ExecutionRecord{},
		startErr: fmt.Errorf("%w: 3 tasks already running", clirun.ErrConcurrencyLimit),
	}
	s, _ := newTestServer(t, execs)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postExecution(t, ts, `{"user_id": "u1", "cli_type": "claude", "command": "echo hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
