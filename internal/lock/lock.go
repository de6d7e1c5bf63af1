// Package lock serializes provisioning and seeding across goroutines and,
// with Redis, across server instances.
package lock

import (
	"context"
	"time"
)

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// Acquire takes key for ttl. It returns false when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry calls Acquire up to maxRetries+1 times, waiting
	// retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release gives up a key taken by this locker. It returns false when the
	// key was not held or has since expired.
	Release(ctx context.Context, key string) (bool, error)

	// IsHeld reports whether anyone holds key.
	IsHeld(ctx context.Context, key string) (bool, error)
}

func acquireWithRetry(ctx context.Context, l Locker, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; ; i++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if i >= maxRetries {
			return false, nil
		}

		t := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

// Keys names the locks used by the server.
var Keys = lockKeys{}

type lockKeys struct{}

// Provision guards remote store provisioning so two instances do not create
// collections and indexes at once.
func (lockKeys) Provision() string {
	return "lock:store:provision"
}

// Seed guards startup seeding of demo and configured users.
func (lockKeys) Seed() string {
	return "lock:store:seed"
}
