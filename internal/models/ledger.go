package models

import "time"

// DiscountCode is a single-use redemption row.
type DiscountCode struct {
	Code           string     `json:"code"`
	OwnerEmail     string     `json:"owner_email"`
	DiscountAmount int64      `json:"discount_amount"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Used           bool       `json:"used"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	UsedByLockID   string     `json:"used_by_lock_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExpiredAt reports whether the code can no longer be redeemed at t.
func (c *DiscountCode) ExpiredAt(t time.Time) bool {
	return c.ExpiresAt != nil && !t.Before(*c.ExpiresAt)
}

// CodeCheck is the non-mutating preview returned by Verify.
type CodeCheck struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discount_amount"`
	Reason         string `json:"reason,omitempty"`
}

// Payment attempt statuses.
const (
	AttemptPending   = "pending"
	AttemptSucceeded = "succeeded"
	AttemptDeclined  = "declined"
	AttemptUnknown   = "unknown"
	AttemptOrphaned  = "orphaned"
)

// PaymentAttempt records one confirmation attempt per lock. Reference is the
// gateway idempotency key and stays the same across retries of that lock.
type PaymentAttempt struct {
	Reference         string              `json:"reference"`
	LockID            string              `json:"lock_id"`
	Slot              Slot                `json:"slot"`
	Customer          Customer            `json:"customer"`
	Channel           Channel             `json:"channel"`
	GrossPrice        int64               `json:"gross_price"`
	DiscountCode      string              `json:"discount_code,omitempty"`
	DiscountAmount    int64               `json:"discount_amount"`
	NetPrice          int64               `json:"net_price"`
	Commission        CommissionBreakdown `json:"commission"`
	PaymentToken      string              `json:"-"`
	Status            string              `json:"status"`
	AuthorizationCode string              `json:"authorization_code,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Final reports whether the attempt reached a terminal status.
func (a *PaymentAttempt) Final() bool {
	switch a.Status {
	case AttemptSucceeded, AttemptDeclined, AttemptOrphaned:
		return true
	}
	return false
}

// ReferenceForLock derives the gateway idempotency key for a lock.
func ReferenceForLock(lockID string) string {
	return "rsv_" + lockID
}
