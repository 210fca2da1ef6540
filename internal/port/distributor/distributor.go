package distributor

import (
	"context"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
)

// Distributor assigns a single unassigned lead to an agent or an administrator.
type Distributor interface {
	Assign(ctx context.Context, leadID uuid.UUID) (domainassignment.Result, error)
}

// BulkDistributor drains the unassigned backlog.
type BulkDistributor interface {
	DistributeUnassigned(ctx context.Context) ([]domainassignment.Result, error)
}
