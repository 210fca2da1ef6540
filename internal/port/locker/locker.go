package locker

import "context"

// AdvisoryLocker serialises a critical section across every process sharing the
// database. Lock and unlock must happen on the same session.
type AdvisoryLocker interface {
	WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error
}
