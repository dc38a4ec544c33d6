package lock

import (
	"context"
	"log/slog"
	"time"
)

// FailoverRunLock prefers the Redis lock and falls back to the durable
// lock per call when Redis does not answer. The probe happens on every
// operation so a recovered Redis is picked up immediately; a lock taken
// on one backend is also released on that backend because owner identity
// travels with the caller, not the backend.
type FailoverRunLock struct {
	primary  *RedisRunLock
	fallback RunLock
	logger   *slog.Logger
}

// NewFailoverRunLock creates a run lock that degrades from Redis to the
// database.
func NewFailoverRunLock(primary *RedisRunLock, fallback RunLock, logger *slog.Logger) *FailoverRunLock {
	return &FailoverRunLock{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("module", "failover_run_lock"),
	}
}

func (l *FailoverRunLock) pick(ctx context.Context) RunLock {
	if l.primary.Healthy(ctx) {
		return l.primary
	}

	l.logger.WarnContext(ctx, "Falling back to durable run lock")

	return l.fallback
}

func (l *FailoverRunLock) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	return l.pick(ctx).Acquire(ctx, runID, owner, ttl)
}

func (l *FailoverRunLock) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	return l.pick(ctx).Renew(ctx, runID, owner, ttl)
}

func (l *FailoverRunLock) Release(ctx context.Context, runID, owner string) error {
	// Release on both backends: the acquire may have happened on either
	// side of a Redis outage, and releasing an unheld lock is harmless.
	primaryErr := l.primary.Release(ctx, runID, owner)
	fallbackErr := l.fallback.Release(ctx, runID, owner)

	if primaryErr == nil || fallbackErr == nil {
		return nil
	}

	return primaryErr
}

func (l *FailoverRunLock) IsLocked(ctx context.Context, runID string) (bool, error) {
	return l.pick(ctx).IsLocked(ctx, runID)
}
