package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
)

// Store is a process-local implementation of every persistence port. It backs
// STORAGE=memory deployments and service tests.
//
// Insertion order breaks created_at ties so list results are deterministic.
type Store struct {
	mu sync.RWMutex

	agents     map[uuid.UUID]domainagent.Agent
	agentOrder []uuid.UUID

	leads     map[uuid.UUID]domainlead.Lead
	leadOrder []uuid.UUID

	logs     []domainassignment.LogEntry
	settings map[string]string
}

func NewStore() *Store {
	return &Store{
		agents:   make(map[uuid.UUID]domainagent.Agent),
		leads:    make(map[uuid.UUID]domainlead.Lead),
		settings: make(map[string]string),
	}
}

// ── agents ───────────────────────────────────────────────────────────────────

func (s *Store) CreateAgent(_ context.Context, a domainagent.Agent) (domainagent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; ok {
		return domainagent.Agent{}, fmt.Errorf("agent %s already exists", a.ID)
	}
	s.agents[a.ID] = a
	s.agentOrder = append(s.agentOrder, a.ID)
	return a, nil
}

func (s *Store) GetAgent(_ context.Context, id uuid.UUID) (domainagent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return domainagent.Agent{}, fmt.Errorf("agent %s: %w", id, distribution.ErrAgentNotFound)
	}
	return a, nil
}

func (s *Store) ListAgents(_ context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domainagent.Agent
	for _, a := range s.agentsByCreation() {
		if filters.Role != nil && a.Role != *filters.Role {
			continue
		}
		if filters.Available != nil && a.Available != *filters.Available {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) SetAvailability(_ context.Context, id uuid.UUID, available bool) error {
	return s.updateAgent(id, func(a *domainagent.Agent) { a.Available = available })
}

func (s *Store) SetMaxLeads(_ context.Context, id uuid.UUID, maxLeads int) error {
	return s.updateAgent(id, func(a *domainagent.Agent) { a.MaxLeads = maxLeads })
}

func (s *Store) ListEligible(_ context.Context) ([]domainagent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domainagent.Agent
	for _, a := range s.agentsByCreation() {
		if a.Eligible() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) FirstAdmin(_ context.Context) (domainagent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agentsByCreation() {
		if a.IsAdmin() {
			return a, nil
		}
	}
	return domainagent.Agent{}, distribution.ErrNoAdmin
}

func (s *Store) updateAgent(id uuid.UUID, fn func(a *domainagent.Agent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, distribution.ErrAgentNotFound)
	}
	fn(&a)
	s.agents[id] = a
	return nil
}

// agentsByCreation must be called with s.mu held.
func (s *Store) agentsByCreation() []domainagent.Agent {
	out := make([]domainagent.Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id])
	}
	slices.SortStableFunc(out, func(a, b domainagent.Agent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// ── leads ────────────────────────────────────────────────────────────────────

func (s *Store) CreateLead(_ context.Context, l domainlead.Lead) (domainlead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[l.ID]; ok {
		return domainlead.Lead{}, fmt.Errorf("lead %s already exists", l.ID)
	}
	s.leads[l.ID] = l
	s.leadOrder = append(s.leadOrder, l.ID)
	return l, nil
}

func (s *Store) GetLead(_ context.Context, id uuid.UUID) (domainlead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return domainlead.Lead{}, fmt.Errorf("lead %s: %w", id, distribution.ErrLeadNotFound)
	}
	return l, nil
}

func (s *Store) ListLeads(_ context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domainlead.Lead, 0, len(s.leadOrder))
	for _, id := range s.leadOrder {
		l := s.leads[id]
		if filters.Status != nil && l.Status != *filters.Status {
			continue
		}
		if filters.AssignedTo != nil && (l.AssignedTo == nil || *l.AssignedTo != *filters.AssignedTo) {
			continue
		}
		if filters.Unassigned && l.AssignedTo != nil {
			continue
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b domainlead.Lead) int {
		if filters.OldestFirst {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateLeadStatus(_ context.Context, id uuid.UUID, from, to domainlead.Status, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, distribution.ErrLeadNotFound)
	}
	if l.Status != from {
		return fmt.Errorf("lead %s: expected status %s: %w", id, from, domainlead.ErrConcurrentUpdate)
	}
	l.Status = to
	if stage != "" {
		l.Stage = stage
	}
	l.UpdatedAt = time.Now().UTC()
	s.leads[id] = l
	return nil
}

func (s *Store) CountActive(_ context.Context, agentID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActive(agentID), nil
}

// countActive must be called with s.mu held.
func (s *Store) countActive(agentID uuid.UUID) int {
	n := 0
	for _, l := range s.leads {
		if l.AssignedTo != nil && *l.AssignedTo == agentID && l.Status.IsActive() {
			n++
		}
	}
	return n
}

// ── assignments ──────────────────────────────────────────────────────────────

// Assign applies the lead update and the log append under one lock, so readers
// never observe one without the other.
func (s *Store) Assign(_ context.Context, rec domainassignment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[rec.LeadID]
	if !ok {
		return fmt.Errorf("lead %s: %w", rec.LeadID, distribution.ErrLeadNotFound)
	}
	if l.AssignedTo != nil {
		return fmt.Errorf("lead %s: %w", rec.LeadID, distribution.ErrAlreadyAssigned)
	}
	if rec.CapacityGuard > 0 && s.countActive(rec.AgentID) >= rec.CapacityGuard {
		return &distribution.TransientError{Op: "assign lead", Err: distribution.ErrCapacityExceeded}
	}
	agentID := rec.AgentID
	at := rec.AssignedAt
	l.AssignedTo = &agentID
	l.AssignedAt = &at
	l.UpdatedAt = at
	s.leads[rec.LeadID] = l
	s.logs = append(s.logs, rec.Entry)
	return nil
}

func (s *Store) Transfer(_ context.Context, leadID, fromAgentID, toAgentID uuid.UUID, entry domainassignment.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %s: %w", leadID, distribution.ErrLeadNotFound)
	}
	if l.AssignedTo == nil || *l.AssignedTo != fromAgentID {
		return fmt.Errorf("lead %s: not held by agent %s: %w", leadID, fromAgentID, domainlead.ErrConcurrentUpdate)
	}
	to := toAgentID
	at := entry.CreatedAt
	l.AssignedTo = &to
	l.AssignedAt = &at
	l.UpdatedAt = at
	s.leads[leadID] = l
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) ListByLead(_ context.Context, leadID uuid.UUID) ([]domainassignment.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domainassignment.LogEntry
	for _, e := range s.logs {
		if e.LeadID == leadID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b domainassignment.LogEntry) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return out, nil
}

// ── settings ─────────────────────────────────────────────────────────────────

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}
