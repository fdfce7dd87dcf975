// Package gateway is the HTTP+WebSocket surface of the orchestrator. HTTP
// carries the inbound message entrypoint and execution management; the WS
// endpoint streams bus events to dashboard clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/clirun"
	"github.com/nextlevelbuilder/superbrain/internal/config"
	"github.com/nextlevelbuilder/superbrain/internal/pipeline"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/internal/workspace"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

// ExecManager is the execution-control surface the gateway exposes.
// Satisfied by *clirun.Manager.
type ExecManager interface {
	Start(ctx context.Context, req clirun.StartRequest) (string, error)
	Status(ctx context.Context, trackingID string) (*store.ExecutionRecord, error)
	Cancel(trackingID string) error
	RunningCount() int
}

var _ ExecManager = (*clirun.Manager)(nil)

// WorkspaceProvider creates or returns the per-agent sandbox an execution
// runs in. Satisfied by *workspace.Manager.
type WorkspaceProvider interface {
	Create(ctx context.Context, userID, agentID, cliType string) (*store.WorkspaceRecord, error)
}

var _ WorkspaceProvider = (*workspace.Manager)(nil)

// Server handles WebSocket and HTTP connections.
type Server struct {
	cfg        config.GatewayConfig
	pipeline   *pipeline.Pipeline
	execs      ExecManager
	workspaces WorkspaceProvider
	events     bus.EventPublisher
	files      *FileService
	log        *slog.Logger

	upgrader websocket.Upgrader
	limits   *visitorLimiter
	clients  map[string]*Client
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg config.GatewayConfig, pipe *pipeline.Pipeline, execs ExecManager, events bus.EventPublisher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: pipe,
		execs:    execs,
		events:   events,
		log:      log,
		clients:  make(map[string]*Client),
		limits:   newVisitorLimiter(cfg.RateLimitRPM, defaultBurst),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetFileService attaches the expiring-link file service and its routes.
func (s *Server) SetFileService(fs *FileService) { s.files = fs }

// SetWorkspaces attaches the sandbox manager used by execution starts.
func (s *Server) SetWorkspaces(ws WorkspaceProvider) { s.workspaces = ws }

// checkOrigin validates the WS origin against the allowlist. No config means
// allow all; an empty Origin header (CLI and SDK clients) always passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.log.Warn("gateway.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/process", s.handleProcess)
	mux.HandleFunc("POST /v1/executions", s.handleExecutionStart)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleExecutionStatus)
	mux.HandleFunc("POST /v1/executions/{id}/cancel", s.handleExecutionCancel)

	if s.files != nil {
		mux.HandleFunc("GET /files/{token}", s.files.handleDownload)
	}

	s.mux = mux
	return mux
}

// Start listens until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.log.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

type processRequest struct {
	Message bus.Message `json:"message"`
	Context bus.Context `json:"context"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !s.limits.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Context.UserID == "" {
		writeError(w, http.StatusBadRequest, "context.user_id is required")
		return
	}
	if max := s.cfg.MaxMessageChars; max > 0 && len([]rune(req.Message.Content)) > max {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("message content exceeds %d chars", max))
		return
	}

	res := s.pipeline.Process(r.Context(), &req.Message, &req.Context)

	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: protocol.EventPipeline, Payload: map[string]any{
			"message_id": req.Message.ID,
			"result":     string(res.Type),
		}})
	}
	writeJSON(w, http.StatusOK, res)
}

type executionRequest struct {
	UserID         string `json:"user_id"`
	AgentID        string `json:"agent_id,omitempty"`
	CLIType        string `json:"cli_type"`
	Command        string `json:"command"`
	ConversationID string `json:"conversation_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
}

// handleExecutionStart creates the agent workspace and launches an async
// CLI run. The tracking id comes back immediately; completion arrives over
// the event stream and the delivery path.
func (s *Server) handleExecutionStart(w http.ResponseWriter, r *http.Request) {
	if !s.limits.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req executionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.UserID == "" || req.CLIType == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "user_id, cli_type and command are required")
		return
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = "default"
	}

	start := clirun.StartRequest{
		CLIType:        req.CLIType,
		Command:        req.Command,
		UserID:         req.UserID,
		AgentID:        agentID,
		ConversationID: req.ConversationID,
		AccountID:      req.AccountID,
		Platform:       req.Platform,
		Recipient:      req.Recipient,
	}
	if s.workspaces != nil {
		ws, err := s.workspaces.Create(r.Context(), req.UserID, agentID, req.CLIType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "workspace: "+err.Error())
			return
		}
		start.WorkspacePath = ws.Path
	}

	trackingID, err := s.execs.Start(r.Context(), start)
	if err != nil {
		if errors.Is(err, clirun.ErrConcurrencyLimit) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("gateway.execution_started", "tracking_id", trackingID, "cli", req.CLIType, "user", req.UserID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"tracking_id": trackingID,
		"status":      store.ExecRunning,
	})
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.execs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExecutionCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.execs.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"tracking_id": id, "status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"running_executions": s.execs.RunningCount(),
	})
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("gateway.ws_upgrade_failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	// Cache invalidation events are process-internal; never forwarded.
	s.events.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		frame := protocol.NewEvent(event.Name, event.Payload)
		frame.AgentID = event.AgentID
		c.SendEvent(*frame)
	})

	s.log.Info("gateway.client_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.events.Unsubscribe(c.id)
	s.log.Info("gateway.client_disconnected", "id", c.id)
}

// BroadcastEvent sends a frame to all connected clients directly, bypassing
// the bus. Used for shutdown notices.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
