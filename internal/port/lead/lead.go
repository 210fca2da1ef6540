package lead

import (
	"context"

	"github.com/google/uuid"

	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
)

type Repository interface {
	Create(ctx context.Context, l domainlead.Lead) (domainlead.Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (domainlead.Lead, error)
	List(ctx context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error)

	// UpdateStatus performs an atomic CAS: only transitions if current status matches `from`.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainlead.Status, stage string) error
}

// Reader is what the distributor needs to load leads.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domainlead.Lead, error)
	List(ctx context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error)
}

// CapacityCounter counts an agent's active (non-closed) leads.
type CapacityCounter interface {
	CountActive(ctx context.Context, agentID uuid.UUID) (int, error)
}
