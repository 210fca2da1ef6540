package assignment

import (
	"context"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
)

// Writer persists an assignment decision.
// Assign sets the lead's assigned_to/assigned_at and appends the log entry as one
// atomic unit. It fails with distribution.ErrAlreadyAssigned if the lead is no longer
// unassigned, and with distribution.ErrCapacityExceeded when rec.CapacityGuard is set
// and the agent is already at that many active leads.
type Writer interface {
	Assign(ctx context.Context, rec domainassignment.Record) error
}

// Transferrer moves an assigned lead to another agent. It is deliberately separate
// from Writer: transfers are explicit operator actions, not distribution decisions.
type Transferrer interface {
	Transfer(ctx context.Context, leadID, fromAgentID, toAgentID uuid.UUID, entry domainassignment.LogEntry) error
}

type LogReader interface {
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]domainassignment.LogEntry, error)
}
