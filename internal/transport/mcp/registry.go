package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var _ portnotifier.AssignmentNotifier = (*SessionRegistry)(nil)

// SessionRegistry maps MCP sessions to the agents that opened them so
// assignments can be pushed to the assignee's own client.
type SessionRegistry struct {
	mu         sync.RWMutex
	bySessions map[string]uuid.UUID // sessionID → agentID
	byAgent    map[uuid.UUID]string // agentID → sessionID

	// mcpSrv is set after the MCP server is constructed (avoids circular init dependency).
	mcpMu  sync.RWMutex
	mcpSrv *mcpserver.MCPServer
}

// NewSessionRegistry creates a registry without an MCP server reference.
// Call SetMCPServer once the mcp-go server is constructed.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		bySessions: make(map[string]uuid.UUID),
		byAgent:    make(map[uuid.UUID]string),
	}
}

func (r *SessionRegistry) SetMCPServer(s *mcpserver.MCPServer) {
	r.mcpMu.Lock()
	r.mcpSrv = s
	r.mcpMu.Unlock()
}

// Register maps a session to an agent. A newer session for the same agent
// replaces the old one.
func (r *SessionRegistry) Register(sessionID string, agentID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldSession, ok := r.byAgent[agentID]; ok {
		delete(r.bySessions, oldSession)
	}
	r.bySessions[sessionID] = agentID
	r.byAgent[agentID] = sessionID
}

// Unregister removes a session when it closes. Returns the agentID it mapped to.
func (r *SessionRegistry) Unregister(sessionID string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID, ok := r.bySessions[sessionID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.bySessions, sessionID)
	delete(r.byAgent, agentID)
	return agentID, true
}

func (r *SessionRegistry) IsConnected(agentID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agentID]
	return ok
}

// NotifyAssignment sends the assignment to the assignee's session, if any.
func (r *SessionRegistry) NotifyAssignment(_ context.Context, n domainassignment.Notification) error {
	r.mu.RLock()
	sessionID, ok := r.byAgent[n.AssignedTo]
	r.mu.RUnlock()

	if !ok {
		return nil // Agent not connected.
	}

	r.mcpMu.RLock()
	srv := r.mcpSrv
	r.mcpMu.RUnlock()

	if srv == nil {
		return fmt.Errorf("mcp server not initialized")
	}

	params, err := toParams(n)
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}
	params["event"] = "lead_assigned"

	return srv.SendNotificationToSpecificClient(sessionID, "notifications/message", params)
}

func toParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return map[string]any{"data": v}, nil
	}
	return params, nil
}
