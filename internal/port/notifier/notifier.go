package notifier

import (
	"context"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
)

// AssignmentNotifier pushes a committed assignment to real-time listeners.
// Delivery is best-effort: callers log failures and never roll back.
type AssignmentNotifier interface {
	NotifyAssignment(ctx context.Context, n domainassignment.Notification) error
}
