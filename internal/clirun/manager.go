// Package clirun supervises long-running CLI provider processes: spawn
// with privilege drop, stale and timeout kills, throttled progress,
// output-file detection and result delivery.
package clirun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

const (
	DefaultMaxConcurrentPerUser = 3
	DefaultStaleThreshold       = 5 * time.Minute
	DefaultStaleTick            = 30 * time.Second
	DefaultMaxTimeout           = 60 * time.Minute
	DefaultProgressInterval     = 30 * time.Second
	DefaultStdoutCap            = 2 << 20 // 2 MiB
	DefaultKillGrace            = 5 * time.Second

	// Shared file links handed to recall mode expire after this.
	FileTTL = 72 * time.Hour
)

// RecallFunc re-enters the owning agent's reasoning loop with a
// completion summary. Registered by the pipeline.
type RecallFunc func(ctx context.Context, rec *store.ExecutionRecord, summary string, files []FileReport) error

// FileRegistrar hands out expiring download URLs for output files.
type FileRegistrar interface {
	Register(path string, ttl time.Duration) (string, error)
}

// Config tunes the manager. Zero values fall back to the defaults above.
type Config struct {
	MaxConcurrentPerUser int
	StaleThreshold       time.Duration
	StaleTick            time.Duration
	MaxTimeout           time.Duration
	ProgressInterval     time.Duration
	StdoutCap            int
	KillGrace            time.Duration

	// SandboxUID/GID drop child privileges when >= 0.
	SandboxUID int
	SandboxGID int
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentPerUser <= 0 {
		c.MaxConcurrentPerUser = DefaultMaxConcurrentPerUser
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.StaleTick <= 0 {
		c.StaleTick = DefaultStaleTick
	}
	if c.MaxTimeout <= 0 || c.MaxTimeout > DefaultMaxTimeout {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.StdoutCap <= 0 {
		c.StdoutCap = DefaultStdoutCap
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
}

// StartRequest describes one CLI run.
type StartRequest struct {
	CLIType       string
	Command       string
	WorkspacePath string

	UserID         string
	AgentID        string
	ConversationID string
	AccountID      string
	Platform       string
	Recipient      string

	Env []string

	// Per-run overrides; capped at the manager maximum.
	StaleThreshold time.Duration
	MaxTimeout     time.Duration
}

type execution struct {
	rec      *store.ExecutionRecord
	cmd      *exec.Cmd
	stdout   *ringBuffer
	stderr   *ringBuffer
	snapshot map[string]struct{}

	mu           sync.Mutex
	lastOutput   time.Time
	lastProgress time.Time
	killReason   string

	timeout    *time.Timer
	staleStop  chan struct{}
	exited     chan struct{}
	finishOnce sync.Once
}

// ErrConcurrencyLimit is returned by Start when the user already has the
// maximum number of tasks running.
var ErrConcurrencyLimit = errors.New("concurrency limit reached")

// Manager owns all running executions.
type Manager struct {
	cfg       Config
	execs     store.ExecStore
	delivery  store.DeliveryStore
	events    bus.EventPublisher
	recall    RecallFunc
	registrar FileRegistrar
	log       *slog.Logger

	mu      sync.Mutex
	running map[string]*execution

	// admit serializes the running-count check and the insert; concurrent
	// Starts must not both pass the cap.
	admit sync.Mutex
}

func NewManager(cfg Config, execs store.ExecStore, delivery store.DeliveryStore, events bus.EventPublisher, log *slog.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		execs:    execs,
		delivery: delivery,
		events:   events,
		log:      log,
		running:  make(map[string]*execution),
	}
}

// SetRecall registers the reasoning-loop re-entry callback.
func (m *Manager) SetRecall(fn RecallFunc) { m.recall = fn }

// SetFileRegistrar registers the expiring-link service for output files.
func (m *Manager) SetFileRegistrar(r FileRegistrar) { m.registrar = r }

// Start spawns the CLI process and returns its tracking id.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Command == "" {
		return "", fmt.Errorf("empty command")
	}

	stale := req.StaleThreshold
	if stale <= 0 {
		stale = m.cfg.StaleThreshold
	}
	timeout := req.MaxTimeout
	if timeout <= 0 || timeout > m.cfg.MaxTimeout {
		timeout = m.cfg.MaxTimeout
	}

	now := time.Now().UTC()
	rec := &store.ExecutionRecord{
		TrackingID:       bus.GenID().String(),
		CLIType:          req.CLIType,
		UserID:           req.UserID,
		AgentID:          req.AgentID,
		ConversationID:   req.ConversationID,
		AccountID:        req.AccountID,
		ExternalID:       req.Recipient,
		Platform:         req.Platform,
		WorkspacePath:    req.WorkspacePath,
		StartedAt:        now,
		LastActivityAt:   now,
		Status:           store.ExecRunning,
		DeliveryStatus:   "",
		StaleThresholdMs: stale.Milliseconds(),
		MaxTimeoutMs:     timeout.Milliseconds(),
	}

	m.admit.Lock()
	count, err := m.execs.CountRunning(ctx, req.UserID)
	if err != nil {
		m.admit.Unlock()
		return "", fmt.Errorf("count running: %w", err)
	}
	if count >= m.cfg.MaxConcurrentPerUser {
		m.admit.Unlock()
		return "", fmt.Errorf("%w: %d tasks already running", ErrConcurrencyLimit, count)
	}
	if err := m.execs.Insert(ctx, rec); err != nil {
		m.admit.Unlock()
		return "", fmt.Errorf("persist execution: %w", err)
	}
	m.admit.Unlock()

	e := &execution{
		rec:          rec,
		lastOutput:   now,
		lastProgress: now,
		staleStop:    make(chan struct{}),
		exited:       make(chan struct{}),
	}
	onWrite := func(int) { m.noteActivity(e) }
	e.stdout = newRingBuffer(m.cfg.StdoutCap, onWrite)
	e.stderr = newRingBuffer(m.cfg.StdoutCap, onWrite)
	if req.WorkspacePath != "" {
		e.snapshot = snapshotFiles(req.WorkspacePath)
	}

	cmd := exec.Command("/bin/sh", "-c", req.Command)
	cmd.Dir = req.WorkspacePath
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	attr := &syscall.SysProcAttr{Setpgid: true}
	if m.cfg.SandboxUID > 0 {
		attr.Credential = &syscall.Credential{
			Uid: uint32(m.cfg.SandboxUID),
			Gid: uint32(m.cfg.SandboxGID),
		}
	}
	cmd.SysProcAttr = attr
	e.cmd = cmd

	if err := cmd.Start(); err != nil {
		_ = m.execs.Finish(context.Background(), rec.TrackingID, store.ExecFailed, 0, nil, "spawn: "+err.Error())
		return "", fmt.Errorf("spawn %s: %w", req.CLIType, err)
	}

	m.mu.Lock()
	m.running[rec.TrackingID] = e
	m.mu.Unlock()

	e.timeout = time.AfterFunc(timeout, func() {
		m.kill(e, fmt.Sprintf("timeout after %s", timeout))
	})
	go m.watchStale(e, stale)
	go m.wait(e)

	m.publishExec(protocol.EventExecStarted, rec, "")
	m.log.Info("clirun.started",
		"tracking_id", rec.TrackingID, "cli", req.CLIType, "user", req.UserID,
		"workspace", req.WorkspacePath, "timeout", timeout, "stale_threshold", stale)
	return rec.TrackingID, nil
}

// noteActivity records output arrival and emits a progress event at most
// once per ProgressInterval.
func (m *Manager) noteActivity(e *execution) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.lastOutput = now
	emit := now.Sub(e.lastProgress) >= m.cfg.ProgressInterval
	if emit {
		e.lastProgress = now
	}
	e.mu.Unlock()
	if !emit {
		return
	}
	if err := m.execs.UpdateActivity(context.Background(), e.rec.TrackingID, now); err != nil {
		m.log.Warn("clirun.activity_update_failed", "tracking_id", e.rec.TrackingID, "error", err)
	}
	m.publishExec(protocol.EventExecProgress, e.rec, "")
}

func (m *Manager) watchStale(e *execution, threshold time.Duration) {
	ticker := time.NewTicker(m.cfg.StaleTick)
	defer ticker.Stop()
	for {
		select {
		case <-e.staleStop:
			return
		case <-e.exited:
			return
		case <-ticker.C:
			e.mu.Lock()
			idle := time.Since(e.lastOutput)
			e.mu.Unlock()
			if idle > threshold {
				m.kill(e, fmt.Sprintf("stale: no output for %s", idle.Round(time.Second)))
				return
			}
		}
	}
}

// kill sends SIGTERM to the process group and escalates to SIGKILL after
// the grace period. The first reason wins.
func (m *Manager) kill(e *execution, reason string) {
	e.mu.Lock()
	if e.killReason != "" {
		e.mu.Unlock()
		return
	}
	e.killReason = reason
	e.mu.Unlock()

	m.log.Warn("clirun.killing", "tracking_id", e.rec.TrackingID, "reason", reason)
	if e.cmd.Process == nil {
		return
	}
	pgid := -e.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	time.AfterFunc(m.cfg.KillGrace, func() {
		select {
		case <-e.exited:
		default:
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}
	})
}

func (m *Manager) wait(e *execution) {
	err := e.cmd.Wait()
	close(e.exited)
	e.finishOnce.Do(func() { m.finish(e, err) })
}

func (m *Manager) finish(e *execution, waitErr error) {
	e.timeout.Stop()
	close(e.staleStop)

	m.mu.Lock()
	delete(m.running, e.rec.TrackingID)
	m.mu.Unlock()

	e.mu.Lock()
	killReason := e.killReason
	e.mu.Unlock()

	stdout := e.stdout.String()
	success := waitErr == nil && killReason == ""

	status := store.ExecCompleted
	errStr := ""
	switch {
	case success:
	case strings.HasPrefix(killReason, "cancelled"):
		status = store.ExecCancelled
		errStr = killReason
	case strings.HasPrefix(killReason, "stale"):
		status = store.ExecStaleKilled
		errStr = killReason
	default:
		status = store.ExecFailed
		errStr = killReason
		if errStr == "" && waitErr != nil {
			errStr = waitErr.Error()
			if tail := tailOf(e.stderr.String(), 500); tail != "" {
				errStr += ": " + tail
			}
		}
	}

	var files []FileReport
	if success {
		files = detectOutputFiles(stdout, e.rec.WorkspacePath, e.snapshot, e.rec.StartedAt)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	if err := m.execs.Finish(context.Background(), e.rec.TrackingID, status, e.stdout.TotalLen(), names, errStr); err != nil {
		m.log.Error("clirun.finish_persist_failed", "tracking_id", e.rec.TrackingID, "error", err)
	}
	// The completion event must carry the final status, not the one the
	// record was created with.
	e.rec.Status = status

	event := protocol.EventExecCompleted
	switch status {
	case store.ExecFailed, store.ExecStaleKilled:
		event = protocol.EventExecFailed
	case store.ExecCancelled:
		event = protocol.EventExecCancelled
	}
	m.publishExecFiles(event, e.rec, errStr, len(files), e.stdout.TotalLen())
	m.log.Info("clirun.finished",
		"tracking_id", e.rec.TrackingID, "status", status,
		"stdout_len", e.stdout.TotalLen(), "files", len(files), "error", errStr)

	m.deliver(e.rec, status, errStr, files)
}

// deliver routes the result: recall into the owning agent when a
// conversation context exists, direct platform delivery when only an
// account is known, not_needed otherwise.
func (m *Manager) deliver(rec *store.ExecutionRecord, status, errStr string, files []FileReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	setStatus := func(s string) {
		if err := m.execs.SetDeliveryStatus(ctx, rec.TrackingID, s); err != nil {
			m.log.Warn("clirun.delivery_status_failed", "tracking_id", rec.TrackingID, "error", err)
		}
	}

	hasRecallCtx := rec.AgentID != "" && rec.ConversationID != "" && m.recall != nil
	hasDirectCtx := rec.AccountID != "" && rec.ExternalID != ""
	if !hasRecallCtx && !hasDirectCtx {
		setStatus(store.DeliveryNotNeeded)
		return
	}

	if hasRecallCtx {
		summary := m.completionSummary(rec, status, errStr, files)
		if err := m.recall(ctx, rec, summary, files); err != nil {
			m.log.Error("clirun.recall_failed", "tracking_id", rec.TrackingID, "error", err)
			setStatus(store.DeliveryFailed)
			return
		}
		setStatus(store.DeliveryDelivered)
		return
	}

	// Direct mode: media first, then the file listing.
	for _, f := range files {
		item := &store.DeliveryItem{
			ID:             bus.GenID(),
			AccountID:      rec.AccountID,
			Recipient:      rec.ExternalID,
			Platform:       rec.Platform,
			ContentType:    "media",
			Options:        map[string]any{"media": f.FullPath, "fileName": f.Name},
			Source:         "clirun:" + rec.CLIType,
			ConversationID: rec.ConversationID,
			AgentID:        rec.AgentID,
			UserID:         rec.UserID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := m.delivery.Enqueue(ctx, item); err != nil {
			m.log.Error("clirun.delivery_enqueue_failed", "tracking_id", rec.TrackingID, "error", err)
			setStatus(store.DeliveryFailed)
			return
		}
	}
	text := m.completionSummary(rec, status, errStr, files)
	item := &store.DeliveryItem{
		ID:             bus.GenID(),
		AccountID:      rec.AccountID,
		Recipient:      rec.ExternalID,
		Platform:       rec.Platform,
		Content:        text,
		Source:         "clirun:" + rec.CLIType,
		ConversationID: rec.ConversationID,
		AgentID:        rec.AgentID,
		UserID:         rec.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.delivery.Enqueue(ctx, item); err != nil {
		m.log.Error("clirun.delivery_enqueue_failed", "tracking_id", rec.TrackingID, "error", err)
		setStatus(store.DeliveryFailed)
		return
	}
	setStatus(store.DeliveryDelivered)
}

func (m *Manager) completionSummary(rec *store.ExecutionRecord, status, errStr string, files []FileReport) string {
	var sb strings.Builder
	switch status {
	case store.ExecCompleted:
		fmt.Fprintf(&sb, "%s task finished.", rec.CLIType)
	case store.ExecCancelled:
		fmt.Fprintf(&sb, "%s task was cancelled: %s", rec.CLIType, errStr)
	default:
		fmt.Fprintf(&sb, "%s task failed: %s", rec.CLIType, errStr)
	}
	if len(files) > 0 {
		sb.WriteString("\nGenerated files:")
		for _, f := range files {
			link := f.FullPath
			if m.registrar != nil {
				if url, err := m.registrar.Register(f.FullPath, FileTTL); err == nil {
					link = url
				}
			}
			fmt.Fprintf(&sb, "\n- %s (%s) %s", f.Name, f.HumanSize, link)
		}
	}
	return sb.String()
}

// Cancel kills a running execution.
func (m *Manager) Cancel(trackingID string) error {
	m.mu.Lock()
	e, ok := m.running[trackingID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running execution %s", trackingID)
	}
	m.kill(e, "cancelled by user")
	return nil
}

// Status returns the stored record.
func (m *Manager) Status(ctx context.Context, trackingID string) (*store.ExecutionRecord, error) {
	return m.execs.Get(ctx, trackingID)
}

// RunningCount returns the number of executions this process supervises.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Recover flips rows left running by a previous process to failed and
// notifies their owners. Called once at startup.
func (m *Manager) Recover(ctx context.Context) error {
	rows, err := m.execs.MarkInterrupted(ctx, "interrupted by restart")
	if err != nil {
		return fmt.Errorf("mark interrupted: %w", err)
	}
	for i := range rows {
		rec := &rows[i]
		m.log.Warn("clirun.recovered", "tracking_id", rec.TrackingID, "user", rec.UserID)
		if rec.AccountID == "" || rec.ExternalID == "" {
			continue
		}
		item := &store.DeliveryItem{
			ID:        bus.GenID(),
			AccountID: rec.AccountID,
			Recipient: rec.ExternalID,
			Platform:  rec.Platform,
			Content:   fmt.Sprintf("Your %s task was interrupted by a service restart. Please retry.", rec.CLIType),
			Source:    "clirun:recovery",
			UserID:    rec.UserID,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.delivery.Enqueue(ctx, item); err != nil {
			m.log.Warn("clirun.recovery_notify_failed", "tracking_id", rec.TrackingID, "error", err)
		}
	}
	return nil
}

func (m *Manager) publishExec(event string, rec *store.ExecutionRecord, errStr string) {
	m.publishExecFiles(event, rec, errStr, 0, 0)
}

func (m *Manager) publishExecFiles(event string, rec *store.ExecutionRecord, errStr string, files, stdoutLen int) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Event{
		Name: event,
		Payload: protocol.ExecEventPayload{
			TrackingID: rec.TrackingID,
			CLIType:    rec.CLIType,
			UserID:     rec.UserID,
			AgentID:    rec.AgentID,
			Status:     rec.Status,
			Error:      errStr,
			Files:      files,
			StdoutLen:  stdoutLen,
		},
	})
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
