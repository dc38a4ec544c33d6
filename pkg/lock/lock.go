// Package lock provides the mutual-exclusion primitives for run
// execution: a Redis lock for the common path, a database fallback for
// when Redis is down, and the short-lived per-user reservation lock used
// while admitting new runs.
package lock

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a dead worker can hold a run hostage.
const DefaultTTL = 5 * time.Minute

// RunLock guards a single run so only one worker advances it at a time.
// Acquire reports false when another owner holds the lock; errors are
// reserved for backend failures.
type RunLock interface {
	Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, runID, owner string) error
	IsLocked(ctx context.Context, runID string) (bool, error)
}
