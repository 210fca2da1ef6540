package idempotency

import (
	"context"
	"time"
)

// ClaimTTL bounds how long an unfinished claim blocks its key. A claim older than
// this is assumed to belong to a crashed request and may be taken over.
const ClaimTTL = 2 * time.Minute

// Response is the replayable outcome of a request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Store remembers responses by client-supplied idempotency key so retried
// webhook deliveries do not create duplicate leads.
//
// A request first claims its key with Reserve; only the claimant runs. It then
// either Saves its response or Releases the claim so a retry can run again.
type Store interface {
	// Reserve atomically claims key. false means another request holds or has
	// completed it.
	Reserve(ctx context.Context, key, operation string) (bool, error)
	// Lookup returns the completed response for key. In-flight claims are not
	// reported.
	Lookup(ctx context.Context, key string) (Response, bool, error)
	// Save completes a claim. A key that is already complete is left untouched.
	Save(ctx context.Context, key string, resp Response) error
	// Release drops an unfinished claim.
	Release(ctx context.Context, key string) error
}
