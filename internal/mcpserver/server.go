// Package mcpserver exposes rule and scene management as MCP tools, so an
// LLM client can install rules, inspect what's running, and drive scenes
// directly against the engine's in-process objects.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/rulehandler"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

// Config holds the MCP server's own configuration. The rule-engine
// dependencies it needs are passed separately to New so this struct stays
// serializable from internal/common/config.
type Config struct {
	Port int
}

// Deps bundles the in-process objects tool handlers call into.
type Deps struct {
	Handler *rulehandler.Handler
	Scenes  *scene.Manager
	Store   store.Store
	// Install resolves a persisted rule name against the process's static
	// closure registry and installs it. May be nil.
	Install func(ctx context.Context, name string) error
}

// Server wraps the SSE and Streamable HTTP transports with lifecycle
// management, mirroring the dual-transport shape MCP clients expect.
type Server struct {
	cfg                  Config
	deps                 Deps
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	logger               *logger.Logger
}

// New constructs a Server. Call Start to begin listening.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, logger: log.WithFields(zap.String("component", "mcp_server"))}
}

// newMCPServer builds the underlying mcp-go server with every tool
// registered, shared between both transports.
func newMCPServer(deps Deps, log *logger.Logger) *server.MCPServer {
	s := server.NewMCPServer("hubitat-rules-mcp", "1.0.0", server.WithToolCapabilities(true))
	registerTools(s, deps, log)
	return s
}

// Start starts both transports on the same port and returns once listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server already running")
	}
	s.mu.Unlock()

	mcpServer := newMCPServer(s.deps, s.logger)

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("mcp server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("mcp server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown sse server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable http server", zap.Error(err))
		}
	}
	return nil
}
