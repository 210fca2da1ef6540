package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var _ portnotifier.AssignmentNotifier = (*Hub)(nil)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the frame sent to every client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is one socket. agentID is uuid.Nil for dashboards, which see every
// assignment; agent sockets only see their own.
type client struct {
	conn    *websocket.Conn
	agentID uuid.UUID

	// wmu serializes writers; gorilla connections allow one at a time.
	wmu sync.Mutex
}

func (cl *client) write(data []byte) error {
	cl.wmu.Lock()
	defer cl.wmu.Unlock()
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Register(rg *gin.RouterGroup) {
	rg.GET("", h.handleWS)
}

func (h *Hub) handleWS(c *gin.Context) {
	var agentID uuid.UUID
	if v := c.Query("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent_id"})
			return
		}
		agentID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, agentID: agentID}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// NotifyAssignment pushes a committed assignment to dashboards and to the
// assignee's own sockets.
func (h *Hub) NotifyAssignment(_ context.Context, n domainassignment.Notification) error {
	typ := string(event.TypeLeadAssigned)
	if n.Reason == "transfer" {
		typ = string(event.TypeLeadTransferred)
	}
	return h.send(Message{Type: typ, Data: n}, func(cl *client) bool {
		return cl.agentID == uuid.Nil || cl.agentID == n.AssignedTo
	})
}

// Broadcast forwards a domain event to dashboards.
func (h *Hub) Broadcast(e event.Event) {
	if err := h.send(Message{Type: string(e.Type), Data: e}, func(cl *client) bool {
		return cl.agentID == uuid.Nil
	}); err != nil {
		slog.Error("websocket broadcast failed", "type", e.Type, "error", err)
	}
}

// Clients reports the number of connected sockets.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// send snapshots the matching clients and writes outside the hub lock, so a
// slow socket stalls only its own writers.
func (h *Hub) send(msg Message, match func(*client) bool) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal websocket message: %w", err)
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		if match(cl) {
			targets = append(targets, cl)
		}
	}
	h.mu.Unlock()

	for _, cl := range targets {
		if err := cl.write(data); err != nil {
			slog.Error("websocket write failed", "agent_id", cl.agentID, "error", err)
		}
	}
	return nil
}
