package memory

import (
	"context"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
	portassignment "github.com/alanyang/lead-mesh/internal/port/assignment"
	portconfig "github.com/alanyang/lead-mesh/internal/port/config"
	portlead "github.com/alanyang/lead-mesh/internal/port/lead"
)

var (
	_ portagent.Repository       = (*AgentRepository)(nil)
	_ portagent.PoolReader       = (*AgentRepository)(nil)
	_ portlead.Repository        = (*LeadRepository)(nil)
	_ portlead.CapacityCounter   = (*LeadRepository)(nil)
	_ portassignment.Writer      = (*Store)(nil)
	_ portassignment.Transferrer = (*Store)(nil)
	_ portassignment.LogReader   = (*Store)(nil)
	_ portconfig.Store           = (*Store)(nil)
)

// AgentRepository exposes the Store through the agent ports.
type AgentRepository struct{ s *Store }

func (s *Store) Agents() *AgentRepository { return &AgentRepository{s: s} }

func (r *AgentRepository) Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error) {
	return r.s.CreateAgent(ctx, a)
}

func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	return r.s.GetAgent(ctx, id)
}

func (r *AgentRepository) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	return r.s.ListAgents(ctx, filters)
}

func (r *AgentRepository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	return r.s.SetAvailability(ctx, id, available)
}

func (r *AgentRepository) SetMaxLeads(ctx context.Context, id uuid.UUID, maxLeads int) error {
	return r.s.SetMaxLeads(ctx, id, maxLeads)
}

func (r *AgentRepository) ListEligible(ctx context.Context) ([]domainagent.Agent, error) {
	return r.s.ListEligible(ctx)
}

func (r *AgentRepository) FirstAdmin(ctx context.Context) (domainagent.Agent, error) {
	return r.s.FirstAdmin(ctx)
}

// LeadRepository exposes the Store through the lead ports.
type LeadRepository struct{ s *Store }

func (s *Store) Leads() *LeadRepository { return &LeadRepository{s: s} }

func (r *LeadRepository) Create(ctx context.Context, l domainlead.Lead) (domainlead.Lead, error) {
	return r.s.CreateLead(ctx, l)
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (domainlead.Lead, error) {
	return r.s.GetLead(ctx, id)
}

func (r *LeadRepository) List(ctx context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error) {
	return r.s.ListLeads(ctx, filters)
}

func (r *LeadRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainlead.Status, stage string) error {
	return r.s.UpdateLeadStatus(ctx, id, from, to, stage)
}

func (r *LeadRepository) CountActive(ctx context.Context, agentID uuid.UUID) (int, error) {
	return r.s.CountActive(ctx, agentID)
}
