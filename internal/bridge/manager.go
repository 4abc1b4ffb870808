// Package bridge owns the server lifecycle: the HTTP listener exposing
// the MCP tool surface, the editor transport listener, and the active
// workflow provider.
package bridge

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/internal/provider"
	"github.com/flowcanvas/bridge/internal/transport"
	mcpbridge "github.com/flowcanvas/bridge/pkg/mcp"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// State is the manager lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds the manager's listen and provider settings.
type Config struct {
	// ListenAddr is the MCP HTTP bind address. Port 0 selects an
	// ephemeral port, returned from Start.
	ListenAddr string
	// EditorListenAddr is the editor transport bind address.
	EditorListenAddr string
	// WorkflowPath overrides the default file location
	// (<workingDir>/.vscode/workflows/workflow.json).
	WorkflowPath string
	// RequestTimeout bounds live editor round trips.
	RequestTimeout time.Duration
}

// Manager owns the bridge server lifecycle and the active provider.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	tr     *transport.Transport
	server *mcpbridge.BridgeServer

	mu           sync.Mutex
	state        State
	prov         provider.Provider
	fileFallback *provider.FileProvider
	httpSrv      *http.Server
	httpLn       net.Listener
	editorLn     *transport.Listener
	port         int
}

// NewManager wires the transport, tool server and provider switching.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.EditorListenAddr == "" {
		cfg.EditorListenAddr = "127.0.0.1:0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = provider.DefaultRequestTimeout
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		tr:     transport.New(logger),
	}

	srv, err := mcpbridge.NewBridgeServer(mcpbridge.BridgeServerDeps{
		Source: m,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	m.server = srv

	m.tr.OnMessage(m.handleEditorMessage)
	m.tr.OnPeerChange(m.handlePeerChange)
	return m, nil
}

// Start binds the MCP HTTP endpoint and the editor listener, installs
// the default file provider when none is set, and returns the bound
// HTTP port. Calling Start while not stopped fails with
// ALREADY_RUNNING: a second bind would silently orphan the first
// listener.
func (m *Manager) Start(ctx context.Context, workingDir string) (int, error) {
	m.mu.Lock()
	if m.state != StateStopped {
		state := m.state
		m.mu.Unlock()
		return 0, schema.NewErrorf(schema.ErrCodeAlreadyRunning, "bridge server is already %s", state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	workflowPath := m.cfg.WorkflowPath
	if workflowPath == "" {
		workflowPath = filepath.Join(workingDir, ".vscode", "workflows", "workflow.json")
	}
	fileProv := provider.NewFileProvider(workflowPath, nil, m.logger)

	httpLn, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		m.setState(StateStopped)
		return 0, schema.NewErrorf(schema.ErrCodeIO, "failed to bind %s", m.cfg.ListenAddr).WithCause(err)
	}

	editorLn, err := transport.Listen(m.cfg.EditorListenAddr, m.tr, m.logger)
	if err != nil {
		_ = httpLn.Close()
		m.setState(StateStopped)
		return 0, schema.NewErrorf(schema.ErrCodeIO, "failed to bind editor listener %s", m.cfg.EditorListenAddr).WithCause(err)
	}

	streamable := server.NewStreamableHTTPServer(m.server.MCPServer(),
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	httpSrv := &http.Server{Handler: mux}

	m.mu.Lock()
	if m.prov == nil {
		m.prov = fileProv
	}
	m.fileFallback = fileProv
	m.httpSrv = httpSrv
	m.httpLn = httpLn
	m.editorLn = editorLn
	m.port = httpLn.Addr().(*net.TCPAddr).Port
	m.state = StateRunning
	port := m.port
	m.mu.Unlock()

	go func() {
		if err := httpSrv.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			m.logger.Error("bridge.http_serve_failed", "error", err.Error())
		}
	}()

	m.logger.Info("bridge.started",
		"port", port,
		"editor_addr", editorLn.Addr().String(),
		"workflow_path", workflowPath,
	)
	return port, nil
}

// Stop shuts the HTTP listener, closes the editor listener and detaches
// the transport peer, rejecting pending requests with SERVER_STOPPED.
// Safe to call from any state; stopping a stopped server is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateStopping {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	httpSrv := m.httpSrv
	editorLn := m.editorLn
	m.httpSrv = nil
	m.httpLn = nil
	m.editorLn = nil
	m.mu.Unlock()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			m.logger.Warn("bridge.http_shutdown_failed", "error", err.Error())
		}
	}
	if editorLn != nil {
		_ = editorLn.Close()
	}
	m.tr.Shutdown()

	m.setState(StateStopped)
	m.logger.Info("bridge.stopped")
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Port returns the bound HTTP port, 0 before Start.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// EditorAddr returns the editor listener address, "" before Start.
func (m *Manager) EditorAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editorLn == nil {
		return ""
	}
	return m.editorLn.Addr().String()
}

// Transport exposes the editor transport (used by tests and by callers
// constructing custom providers).
func (m *Manager) Transport() *transport.Transport {
	return m.tr
}

// Server exposes the MCP tool server.
func (m *Manager) Server() *mcpbridge.BridgeServer {
	return m.server
}

// Provider returns the active provider. Tool handlers call this once
// per invocation; in-flight calls keep the reference they captured.
func (m *Manager) Provider() provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prov
}

// SetWorkflowProvider replaces the active provider. A full replace:
// subsequent tool calls use the new provider, in-flight calls complete
// against the old one.
func (m *Manager) SetWorkflowProvider(p provider.Provider) {
	m.mu.Lock()
	m.prov = p
	m.mu.Unlock()
}

// setState is for error paths that only need the state transition.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// handlePeerChange swaps providers when the live editor attaches or
// detaches: live session while connected, file fallback otherwise.
func (m *Manager) handlePeerChange(attached bool) {
	if attached {
		m.SetWorkflowProvider(provider.NewLiveProvider(m.tr, m.cfg.RequestTimeout, m.logger))
		m.logger.Info("bridge.provider_switched", "backend", "live-session")
		return
	}
	m.mu.Lock()
	fallback := m.fileFallback
	m.mu.Unlock()
	if fallback != nil {
		m.SetWorkflowProvider(fallback)
		m.logger.Info("bridge.provider_switched", "backend", "file", "path", fallback.Path())
	}
}

// handleEditorMessage receives editor notifications (envelopes that are
// not correlated responses).
func (m *Manager) handleEditorMessage(env transport.Envelope) {
	switch env.Type {
	case transport.TypeWorkflowChanged:
		m.server.MarkStale()
		m.logger.Debug("bridge.workflow_changed")
	default:
		m.logger.Debug("bridge.unhandled_envelope", "type", env.Type)
	}
}
