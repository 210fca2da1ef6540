package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
)

// Server wraps the mark3labs/mcp-go MCPServer and its StreamableHTTPServer.
// Tools live in tools.go, prompts in prompts.go, session state in registry.go.
type Server struct {
	httpSrv  *mcpserver.StreamableHTTPServer
	reg      *SessionRegistry
	agentSvc *agentsvc.Service
}

// New creates the MCP transport server. reg is built before the services that
// notify through it; the MCPServer reference is set on it here.
func New(reg *SessionRegistry, svc Services) *Server {
	s := &Server{
		reg:      reg,
		agentSvc: svc.Agents,
	}

	hooks := &mcpserver.Hooks{}
	hooks.OnUnregisterSession = append(hooks.OnUnregisterSession, s.onSessionClose)

	mcpSrv := mcpserver.NewMCPServer(
		"lead-mesh",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithHooks(hooks),
	)

	reg.SetMCPServer(mcpSrv)

	RegisterTools(mcpSrv, reg, svc)
	RegisterPrompts(mcpSrv, svc.Config)

	s.httpSrv = mcpserver.NewStreamableHTTPServer(mcpSrv)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpSrv
}

func (s *Server) Registry() *SessionRegistry {
	return s.reg
}

// onSessionClose takes a disconnected agent out of the pool so leads stop
// landing on someone who is no longer listening.
func (s *Server) onSessionClose(ctx context.Context, session mcpserver.ClientSession) {
	agentID, ok := s.reg.Unregister(session.SessionID())
	if !ok {
		return
	}
	slog.InfoContext(ctx, "mcp: session closed, marking agent unavailable", "session_id", session.SessionID(), "agent_id", agentID)
	go func() {
		if err := s.agentSvc.SetAvailability(context.WithoutCancel(ctx), agentID, false); err != nil {
			slog.Error("mcp: failed to mark agent unavailable", "agent_id", agentID, "error", err)
		}
	}()
}
