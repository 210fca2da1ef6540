package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
	portbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
)

var (
	ErrInvalidRole     = errors.New("role must be admin or user")
	ErrInvalidMaxLeads = errors.New("max_leads must not be negative")
)

// Service manages agent registration and the settings the distributor reads:
// availability and lead capacity.
type Service struct {
	repo portagent.Repository
	bus  portbus.EventBus
}

func NewService(repo portagent.Repository, bus portbus.EventBus) *Service {
	return &Service{repo: repo, bus: bus}
}

func (s *Service) Register(ctx context.Context, name, email string, role domainagent.Role, maxLeads int) (domainagent.Agent, error) {
	if !role.Valid() {
		return domainagent.Agent{}, ErrInvalidRole
	}
	if maxLeads < 0 {
		return domainagent.Agent{}, ErrInvalidMaxLeads
	}

	created, err := s.repo.Create(ctx, domainagent.New(name, email, role, maxLeads))
	if err != nil {
		return domainagent.Agent{}, fmt.Errorf("register agent: %w", err)
	}

	if err := s.bus.Publish(ctx, event.New(event.TypeAgentCreated, created.ID)); err != nil {
		slog.ErrorContext(ctx, "failed to publish AgentCreated event", "agent_id", created.ID, "error", err)
	}
	if created.Eligible() {
		s.bus.Publish(ctx, event.New(event.TypeAgentAvailable, created.ID)) //nolint:errcheck
	}
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainagent.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	agents, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// SetAvailability toggles whether the agent receives new leads. Turning an agent
// on publishes AgentAvailable so waiting leads can be swept to it.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	if err := s.repo.SetAvailability(ctx, id, available); err != nil {
		return fmt.Errorf("set agent availability: %w", err)
	}
	s.bus.Publish(ctx, event.New(event.TypeAgentUpdated, id)) //nolint:errcheck
	if available {
		if err := s.bus.Publish(ctx, event.New(event.TypeAgentAvailable, id)); err != nil {
			slog.ErrorContext(ctx, "failed to publish AgentAvailable event", "agent_id", id, "error", err)
		}
	}
	return nil
}

// SetMaxLeads changes the agent's capacity. Lowering it below the current active
// count does not unassign anything; the agent just stops receiving new leads.
func (s *Service) SetMaxLeads(ctx context.Context, id uuid.UUID, maxLeads int) error {
	if maxLeads < 0 {
		return ErrInvalidMaxLeads
	}
	if err := s.repo.SetMaxLeads(ctx, id, maxLeads); err != nil {
		return fmt.Errorf("set agent max leads: %w", err)
	}
	s.bus.Publish(ctx, event.New(event.TypeAgentUpdated, id)) //nolint:errcheck
	return nil
}
