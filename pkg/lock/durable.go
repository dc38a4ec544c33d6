package lock

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/persistence"
)

// DurableRunLock implements RunLock on the workflow_runs lock columns.
// Slower than Redis but shares the database's durability, so it is the
// fallback when Redis is unreachable.
type DurableRunLock struct {
	runs persistence.RunRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewDurableRunLock creates a database-backed run lock.
func NewDurableRunLock(runs persistence.RunRepository) *DurableRunLock {
	return &DurableRunLock{runs: runs, ttl: DefaultTTL, now: time.Now}
}

func (l *DurableRunLock) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = l.ttl
	}

	return l.runs.TryLock(ctx, runID, owner, ttl, l.now())
}

func (l *DurableRunLock) Renew(ctx context.Context, runID, owner string, _ time.Duration) (bool, error) {
	return l.runs.RenewLock(ctx, runID, owner, l.now())
}

func (l *DurableRunLock) Release(ctx context.Context, runID, owner string) error {
	released, err := l.runs.Unlock(ctx, runID, owner)
	if err != nil {
		return err
	}

	if !released {
		return &LockError{Op: "Release", Key: runLockKey(runID), Err: ErrLockNotHeld}
	}

	return nil
}

func (l *DurableRunLock) IsLocked(ctx context.Context, runID string) (bool, error) {
	return l.runs.IsLocked(ctx, runID, l.ttl, l.now())
}
