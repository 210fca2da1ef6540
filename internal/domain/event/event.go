package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLeadCreated     Type = "lead_created"
	TypeLeadUpdated     Type = "lead_updated"
	TypeLeadAssigned    Type = "lead_assigned"
	TypeLeadTransferred Type = "lead_transferred"
	TypeAgentCreated    Type = "agent_created"
	TypeAgentUpdated    Type = "agent_updated"
	TypeAgentAvailable  Type = "agent_available"
	TypeConfigUpdated   Type = "config_updated"
)

// Channel is a domain-scoped Postgres NOTIFY channel.
// All event types within a domain share one LISTEN connection.
type Channel string

const (
	ChannelLead   Channel = "lead"
	ChannelAgent  Channel = "agent"
	ChannelConfig Channel = "config"
)

var typeToChannel = map[Type]Channel{
	TypeLeadCreated:     ChannelLead,
	TypeLeadUpdated:     ChannelLead,
	TypeLeadAssigned:    ChannelLead,
	TypeLeadTransferred: ChannelLead,
	TypeAgentCreated:    ChannelAgent,
	TypeAgentUpdated:    ChannelAgent,
	TypeAgentAvailable:  ChannelAgent,
	TypeConfigUpdated:   ChannelConfig,
}

// Channels lists every domain channel.
func Channels() []Channel {
	return []Channel{ChannelLead, ChannelAgent, ChannelConfig}
}

// ChannelFor returns the domain channel for a given event type.
func ChannelFor(t Type) Channel { return typeToChannel[t] }

// Event carries identifiers only, not full state.
// Subscribers fetch fresh state from the appropriate repository.
type Event struct {
	Type      Type      `json:"type"`
	EntityID  uuid.UUID `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
}

func New(eventType Type, entityID uuid.UUID) Event {
	return Event{
		Type:      eventType,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}
