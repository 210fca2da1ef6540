package lead

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
	portassignment "github.com/alanyang/lead-mesh/internal/port/assignment"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	portbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
	portlead "github.com/alanyang/lead-mesh/internal/port/lead"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var (
	ErrNotAssigned      = errors.New("lead is not assigned; use distribution instead of transfer")
	ErrSameAgent        = errors.New("lead is already held by that agent")
	ErrInvalidStatus    = errors.New("invalid lead status")
	ErrInvalidLeadInput = errors.New("phone is required")
)

// Service manages the lead lifecycle around the distributor: intake, status
// changes, explicit transfers and the audit trail.
type Service struct {
	repo       portlead.Repository
	agents     portagent.Repository
	transfers  portassignment.Transferrer
	logs       portassignment.LogReader
	dist       portdist.Distributor
	notifier   portnotifier.AssignmentNotifier
	bus        portbus.EventBus
	autoAssign bool
}

func NewService(
	repo portlead.Repository,
	agents portagent.Repository,
	transfers portassignment.Transferrer,
	logs portassignment.LogReader,
	dist portdist.Distributor,
	notifier portnotifier.AssignmentNotifier,
	bus portbus.EventBus,
	autoAssign bool,
) *Service {
	return &Service{
		repo:       repo,
		agents:     agents,
		transfers:  transfers,
		logs:       logs,
		dist:       dist,
		notifier:   notifier,
		bus:        bus,
		autoAssign: autoAssign,
	}
}

// Created is the outcome of lead intake. Assignment is nil when auto-assignment
// is off or failed.
type Created struct {
	Lead       domainlead.Lead          `json:"lead"`
	Assignment *domainassignment.Result `json:"assignment,omitempty"`
}

// Create stores a new lead and, when auto-assignment is on, hands it to the
// distributor. An assignment failure is returned together with the stored lead;
// the lead stays unassigned and is picked up by the next bulk distribution.
func (s *Service) Create(ctx context.Context, name, phone string, source domainlead.Source) (Created, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Created{}, ErrInvalidLeadInput
	}
	if source == "" {
		source = domainlead.SourceManual
	}

	created, err := s.repo.Create(ctx, domainlead.New(strings.TrimSpace(name), phone, source))
	if err != nil {
		return Created{}, fmt.Errorf("create lead: %w", err)
	}
	if err := s.bus.Publish(ctx, event.New(event.TypeLeadCreated, created.ID)); err != nil {
		slog.ErrorContext(ctx, "failed to publish LeadCreated event", "lead_id", created.ID, "error", err)
	}

	out := Created{Lead: created}
	if !s.autoAssign {
		return out, nil
	}

	res, err := s.dist.Assign(ctx, created.ID)
	if err != nil {
		slog.ErrorContext(ctx, "auto-assign failed", "lead_id", created.ID, "error", err)
		return out, fmt.Errorf("auto-assign lead %s: %w", created.ID, err)
	}
	out.Assignment = &res
	if l, err := s.repo.GetByID(ctx, created.ID); err == nil {
		out.Lead = l
	}
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domainlead.Lead, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainlead.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error) {
	leads, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

// UpdateStatus performs a CAS status transition. Closing a lead frees a slot in its
// agent's capacity.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainlead.Status, stage string) (domainlead.Lead, error) {
	if !to.Valid() {
		return domainlead.Lead{}, ErrInvalidStatus
	}
	if !from.CanTransitionTo(to) {
		return domainlead.Lead{}, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, from, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, from, to, stage); err != nil {
		return domainlead.Lead{}, fmt.Errorf("update lead status: %w", err)
	}
	s.bus.Publish(ctx, event.New(event.TypeLeadUpdated, id)) //nolint:errcheck

	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainlead.Lead{}, fmt.Errorf("fetch lead after status update: %w", err)
	}
	return l, nil
}

// Transfer moves an assigned lead to another agent. It is an explicit operator
// action and bypasses the distribution policy, including capacity limits.
func (s *Service) Transfer(ctx context.Context, leadID, toAgentID uuid.UUID, note string) (domainlead.Lead, error) {
	l, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return domainlead.Lead{}, fmt.Errorf("transfer lead: %w", err)
	}
	if !l.IsAssigned() {
		return domainlead.Lead{}, ErrNotAssigned
	}
	if *l.AssignedTo == toAgentID {
		return domainlead.Lead{}, ErrSameAgent
	}
	target, err := s.agents.GetByID(ctx, toAgentID)
	if err != nil {
		return domainlead.Lead{}, fmt.Errorf("transfer lead: %w", err)
	}

	action := "transferred to " + target.Name
	if note = strings.TrimSpace(note); note != "" {
		action += ": " + note
	}
	now := time.Now().UTC()
	entry := domainassignment.NewLogEntry(leadID, &target.ID, action, now)
	if err := s.transfers.Transfer(ctx, leadID, *l.AssignedTo, target.ID, entry); err != nil {
		return domainlead.Lead{}, fmt.Errorf("transfer lead: %w", err)
	}

	if err := s.bus.Publish(ctx, event.New(event.TypeLeadTransferred, leadID)); err != nil {
		slog.ErrorContext(ctx, "failed to publish LeadTransferred event", "lead_id", leadID, "error", err)
	}
	if err := s.notifier.NotifyAssignment(ctx, domainassignment.Notification{
		LeadID:       leadID,
		AssignedTo:   target.ID,
		AssignedName: target.Name,
		Reason:       "transfer",
		AssignedAt:   now,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to notify transfer", "lead_id", leadID, "error", err)
	}

	updated, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return domainlead.Lead{}, fmt.Errorf("fetch lead after transfer: %w", err)
	}
	return updated, nil
}

// Logs returns the lead's assignment history, oldest first.
func (s *Service) Logs(ctx context.Context, leadID uuid.UUID) ([]domainassignment.LogEntry, error) {
	if _, err := s.repo.GetByID(ctx, leadID); err != nil {
		return nil, fmt.Errorf("list assignment logs: %w", err)
	}
	entries, err := s.logs.ListByLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("list assignment logs: %w", err)
	}
	return entries, nil
}
