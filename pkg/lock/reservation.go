package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Reservation lock tuning. The lock only covers one database
// transaction, so it is held briefly and contended callers poll rather
// than queue.
const (
	reservationTTL   = 30 * time.Second
	reservationPoll  = 250 * time.Millisecond
	reservationWait  = 10 * time.Second
	reservationScope = "user-reservation:"
)

const reservationReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// UserReservation serializes run-reservation transactions per user so
// quota checks are race-free across webhook, cron and manual triggers.
// When Redis is down the lock is bypassed and fn runs unguarded, trading
// quota precision for availability.
type UserReservation struct {
	client redisLockClient
	logger *slog.Logger

	ttl  time.Duration
	poll time.Duration
	wait time.Duration
}

// NewUserReservation creates the per-user reservation mutex.
func NewUserReservation(client redisLockClient, logger *slog.Logger) *UserReservation {
	return &UserReservation{
		client: client,
		logger: logger.With("module", "user_reservation"),
		ttl:    reservationTTL,
		poll:   reservationPoll,
		wait:   reservationWait,
	}
}

func reservationKey(userID string) string {
	return reservationScope + userID
}

// WithLock runs fn while holding the user's reservation lock. On
// contention it polls until the wait deadline and then returns
// ErrReservationTimeout. The lock token is compared on delete so an
// expired-and-reacquired lock is never released on someone else's
// behalf.
func (r *UserReservation) WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	key := reservationKey(userID)
	token := uuid.New().String()
	deadline := time.Now().Add(r.wait)

	for {
		acquired, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			// Coordination store down: run unguarded rather than
			// refusing every reservation for the outage's duration.
			r.logger.WarnContext(ctx, "Reservation lock unavailable, bypassing", "user_id", userID, "error", err)

			return fn(ctx)
		}

		if acquired {
			break
		}

		if time.Now().After(deadline) {
			return &LockError{Op: "WithLock", Key: key, Err: ErrReservationTimeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}

	defer func() {
		released, err := r.client.Eval(ctx, reservationReleaseScript, []string{key}, token).Int64()
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to release reservation lock", "user_id", userID, "error", err)

			return
		}

		if released == 0 {
			r.logger.WarnContext(ctx, "Reservation lock expired before release", "user_id", userID)
		}
	}()

	return fn(ctx)
}
