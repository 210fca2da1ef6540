// Package fanout delivers one assignment notification to several listeners.
package fanout

import (
	"context"
	"errors"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var _ portnotifier.AssignmentNotifier = Notifier(nil)

// Notifier calls every listener even when an earlier one fails; the failures
// are joined into the returned error.
type Notifier []portnotifier.AssignmentNotifier

func (n Notifier) NotifyAssignment(ctx context.Context, msg domainassignment.Notification) error {
	var errs []error
	for _, l := range n {
		if l == nil {
			continue
		}
		if err := l.NotifyAssignment(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
