package lock

import (
	"errors"
	"fmt"
)

// Common lock errors.
var (
	ErrLockNotHeld        = errors.New("lock not held by this owner")
	ErrReservationTimeout = errors.New("reservation wait deadline exceeded")
)

// LockError provides context about which key a lock operation failed on.
type LockError struct {
	Op  string
	Key string
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func (e *LockError) Is(target error) bool {
	var lockErr *LockError
	if errors.As(target, &lockErr) {
		return e.Op == lockErr.Op && e.Key == lockErr.Key
	}

	return false
}

// IsReservationTimeout checks if an error is a reservation wait timeout.
func IsReservationTimeout(err error) bool {
	return errors.Is(err, ErrReservationTimeout)
}
