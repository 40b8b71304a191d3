package models

import "time"

// Channel is the origin of a booking; it selects the commission rate.
type Channel string

const (
	ChannelWeb         Channel = "web"
	ChannelAdminDirect Channel = "admin-direct"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWeb || c == ChannelAdminDirect
}

// Reservation statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Court is the read-only catalog view the engine needs for pricing.
type Court struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	HourlyPrice int64  `json:"hourly_price"`
	IsActive    bool   `json:"is_active"`
}

// Customer is the contact snapshot captured on a hold and copied to the reservation.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// SlotLock is a provisional, time-boxed exclusive claim on a slot.
type SlotLock struct {
	ID             string    `json:"id"`
	Slot           Slot      `json:"slot"`
	OwnerSessionID string    `json:"owner_session_id"`
	Customer       *Customer `json:"customer,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExpiredAt reports whether the lock no longer exists at now. The boundary is
// inclusive: at expires_at itself the lock is already absent, matching the
// `expires_at > now` filter every store query uses for active locks.
func (l *SlotLock) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Remaining returns how long the lock still holds at now.
func (l *SlotLock) Remaining(now time.Time) time.Duration {
	if l.ExpiredAt(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// CommissionBreakdown is derived from (gross, channel); it is never stored on its own.
type CommissionBreakdown struct {
	BaseAmount  int64 `json:"base_amount"`
	TaxAmount   int64 `json:"tax_amount"`
	TotalAmount int64 `json:"total_amount"`
}

// Reservation is the durable, billable booking.
type Reservation struct {
	ID                int64               `json:"id"`
	Code              string              `json:"code"`
	LockID            string              `json:"lock_id"`
	Slot              Slot                `json:"slot"`
	Customer          Customer            `json:"customer"`
	GrossPrice        int64               `json:"gross_price"`
	DiscountCode      string              `json:"discount_code,omitempty"`
	DiscountAmount    int64               `json:"discount_amount"`
	NetPrice          int64               `json:"net_price"`
	Commission        CommissionBreakdown `json:"commission"`
	Channel           Channel             `json:"channel"`
	PaymentReference  string              `json:"payment_reference"`
	AuthorizationCode string              `json:"authorization_code,omitempty"`
	Status            string              `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
}
