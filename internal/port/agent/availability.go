package agent

import (
	"context"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
)

// PoolReader is the narrow interface the distributor needs to find assignees.
// Both methods must reflect persisted state at call time.
type PoolReader interface {
	// ListEligible returns agents with role=user and available=true, ordered by created_at ASC.
	ListEligible(ctx context.Context) ([]domainagent.Agent, error)

	// FirstAdmin returns the earliest-created administrator, or distribution.ErrNoAdmin.
	FirstAdmin(ctx context.Context) (domainagent.Agent, error)
}
