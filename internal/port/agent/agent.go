package agent

import (
	"context"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
)

// Repository manages agent records. Agents are never deleted by distribution.
type Repository interface {
	Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error)
	GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error)
	List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error)

	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	SetMaxLeads(ctx context.Context, id uuid.UUID, maxLeads int) error
}
