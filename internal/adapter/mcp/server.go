// Package mcp exposes the tool catalogue and the conversational tools to AI
// agents over the Model Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/hitl/internal/domain/chat"
	"github.com/Strob0t/hitl/internal/domain/tool"
	"github.com/Strob0t/hitl/internal/service"
)

const defaultPath = "/mcp"

// ServerConfig configures the MCP listener.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	Path    string // endpoint path, default /mcp
}

// Coordinator is the part of the service the MCP server calls.
type Coordinator interface {
	Tools() []tool.Tool
	Invoke(ctx context.Context, name string, args []any, kwargs map[string]any) (service.Outcome, error)
	AskQuestion(ctx context.Context, text string, options []string) (string, error)
	TellUser(ctx context.Context, message string) error
	ToolCalls(n int) service.ToolCallsView
	ChatHistory() []chat.Message
}

// Server wraps an mcp-go server and its HTTP listener.
type Server struct {
	cfg        ServerConfig
	coord      Coordinator
	mcpServer  *mcpserver.MCPServer
	handler    *mcpserver.StreamableHTTPServer
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the MCP server and registers every tool coord knows about.
func NewServer(cfg ServerConfig, coord Coordinator) *Server {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	s := &Server{cfg: cfg, coord: coord}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Tools marked destructive wait for a human operator to approve, edit or deny the call. "+
			"Use ask_user to ask the operator a question and tell_user to post a message."),
	)
	s.registerTools()
	s.registerResources()
	s.handler = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(cfg.Path),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP handler, for mounting on another mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening on cfg.Addr in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.handler)

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server error", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down. Agents still waiting for an approval keep
// their connection until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("mcp shutdown: %w", err)
	}
	return nil
}
