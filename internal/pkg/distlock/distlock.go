// Package distlock provides cross-process mutual exclusion on Redis.
package distlock

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/zns-dispatch/internal/pkg/logger"
)

// ErrNotHeld is returned by Extend when the lock expired or belongs to
// another owner.
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
	// Extend resets the TTL if we still own the lock.
	Extend(ctx context.Context, ttl time.Duration) error
	// Key returns the storage key of the lock.
	Key() string
}

// KeepAlive extends lock every interval until ctx is done. onLost is called
// once if an extension reports the lock is gone; the loop then stops.
func KeepAlive(ctx context.Context, lock DistLock, ttl, interval time.Duration, onLost func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Extend(ctx, ttl)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotHeld):
				logger.Error("distlock: lock lost", "key", lock.Key())
				if onLost != nil {
					onLost()
				}
				return
			case ctx.Err() != nil:
				return
			default:
				// transient redis error; the TTL still covers the next tick
				logger.Warn("distlock: extend failed", "key", lock.Key(), "error", err)
			}
		}
	}
}
