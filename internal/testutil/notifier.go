package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
)

// CaptureNotifier is a test double for port/notifier.AssignmentNotifier.
// It records every call with a mutex so it is safe for concurrent use.
type CaptureNotifier struct {
	mu    sync.Mutex
	Calls []domainassignment.Notification
	Err   error
}

func (c *CaptureNotifier) NotifyAssignment(_ context.Context, n domainassignment.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, n)
	return c.Err
}

// For returns the notifications delivered for one agent.
func (c *CaptureNotifier) For(agentID uuid.UUID) []domainassignment.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domainassignment.Notification
	for _, n := range c.Calls {
		if n.AssignedTo == agentID {
			out = append(out, n)
		}
	}
	return out
}

// Last returns the most recent notification, or the zero value.
func (c *CaptureNotifier) Last() domainassignment.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return domainassignment.Notification{}
	}
	return c.Calls[len(c.Calls)-1]
}

func (c *CaptureNotifier) Reset() {
	c.mu.Lock()
	c.Calls = nil
	c.mu.Unlock()
}
