package models

import (
	"errors"
	"fmt"
)

// Expected, caller-actionable outcomes.
var (
	ErrConflict     = errors.New("slot conflict")
	ErrLockExpired  = errors.New("lock expired")
	ErrLockNotFound = errors.New("lock not found")

	ErrCodeInvalid       = errors.New("discount code invalid")
	ErrCodeAlreadyUsed   = errors.New("discount code already used")
	ErrCodeEmailMismatch = errors.New("discount code issued to another email")
	ErrCodeExpired       = errors.New("discount code expired")

	ErrPaymentFailed  = errors.New("payment failed")
	ErrPaymentTimeout = errors.New("payment timeout")
	// ErrPaymentAfterExpiry means the gateway charged after the lock expired; needs manual reconciliation.
	ErrPaymentAfterExpiry = errors.New("payment captured after lock expiry")
	// ErrPaymentInProgress means another confirmation of the same lock is waiting on the gateway.
	ErrPaymentInProgress = errors.New("payment in progress")
	ErrAttemptNotFound   = errors.New("payment attempt not found")

	ErrReservationNotFound = errors.New("reservation not found")

	ErrInvalidSlot      = errors.New("invalid slot")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrCustomerRequired = errors.New("customer details required")
	ErrCourtNotFound    = errors.New("court not found")
	ErrRateLimited      = errors.New("too many requests")

	ErrStorage = errors.New("storage error")
)

// StorageError wraps an unexpected persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError unless it is nil or already a known outcome.
func Storage(op string, err error) error {
	if err == nil || IsExpected(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

var expected = []error{
	ErrConflict, ErrLockExpired, ErrLockNotFound,
	ErrCodeInvalid, ErrCodeAlreadyUsed, ErrCodeEmailMismatch, ErrCodeExpired,
	ErrPaymentFailed, ErrPaymentTimeout, ErrPaymentAfterExpiry, ErrPaymentInProgress, ErrAttemptNotFound,
	ErrReservationNotFound,
	ErrInvalidSlot, ErrInvalidAmount, ErrInvalidChannel, ErrCustomerRequired, ErrCourtNotFound,
	ErrRateLimited,
}

// IsExpected reports whether err is one of the named outcomes rather than a failure.
func IsExpected(err error) bool {
	for _, e := range expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
