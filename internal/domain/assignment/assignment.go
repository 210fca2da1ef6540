package assignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/lead-mesh/internal/domain/distribution"
)

// LogEntry is one row of the append-only assignment audit trail.
type LogEntry struct {
	ID        uuid.UUID  `json:"id"`
	LeadID    uuid.UUID  `json:"lead_id"`
	AgentID   *uuid.UUID `json:"agent_id,omitempty"`
	Action    string     `json:"action"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewLogEntry(leadID uuid.UUID, agentID *uuid.UUID, action string, at time.Time) LogEntry {
	return LogEntry{
		ID:        uuid.New(),
		LeadID:    leadID,
		AgentID:   agentID,
		Action:    action,
		CreatedAt: at,
	}
}

// Record is the unit handed to the assignment writer: the lead update and its
// log entry are persisted together or not at all.
type Record struct {
	LeadID     uuid.UUID
	AgentID    uuid.UUID
	AssignedAt time.Time
	Entry      LogEntry

	// CapacityGuard, when positive, makes the write conditional on the agent
	// holding fewer than CapacityGuard active leads at write time.
	CapacityGuard int
}

// Notification is pushed to real-time listeners after an assignment commits.
type Notification struct {
	LeadID       uuid.UUID `json:"lead_id"`
	AssignedTo   uuid.UUID `json:"assigned_to"`
	AssignedName string    `json:"assigned_name"`
	Reason       string    `json:"reason"`
	Fallback     bool      `json:"fallback"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Result describes one assignment decision.
type Result struct {
	LeadID     uuid.UUID              `json:"lead_id"`
	AgentID    uuid.UUID              `json:"agent_id"`
	AgentName  string                 `json:"agent_name"`
	Reason     string                 `json:"reason"`
	Algorithm  distribution.Algorithm `json:"algorithm"`
	Fallback   bool                   `json:"fallback"`
	AssignedAt time.Time              `json:"assigned_at"`
}

func (r Result) Notification() Notification {
	return Notification{
		LeadID:       r.LeadID,
		AssignedTo:   r.AgentID,
		AssignedName: r.AgentName,
		Reason:       r.Reason,
		Fallback:     r.Fallback,
		AssignedAt:   r.AssignedAt,
	}
}
