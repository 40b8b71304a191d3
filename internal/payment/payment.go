// Package payment holds the gateway port the confirmation flow charges
// through, plus the adapters behind it.
package payment

import (
	"context"
	"errors"
	"time"
)

// Status is the gateway's view of a charge.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusDeclined  Status = "declined"
	// StatusPending means the gateway accepted the charge but has not settled it.
	StatusPending Status = "pending"
	// StatusNotFound is only returned by Lookup: the gateway never saw the reference.
	StatusNotFound Status = "not_found"
)

var (
	// ErrInvalidRequest is returned before any network call when a charge cannot be sent.
	ErrInvalidRequest = errors.New("invalid charge request")
	// ErrLookupIncomplete means Lookup gave up before it could rule the charge out.
	ErrLookupIncomplete = errors.New("charge lookup incomplete")
)

// ChargeRequest is one charge. Reference is the idempotency key: charging the
// same reference twice must never move money twice.
type ChargeRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Token       string
	Description string
}

func (r ChargeRequest) Validate() error {
	if r.Reference == "" || r.Amount <= 0 || r.Currency == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Result is the outcome of a charge or lookup.
type Result struct {
	Status            Status
	AuthorizationCode string
	FailureReason     string
}

// Gateway charges customers. Charge returns an error only when the outcome is
// unknown (transport failure or ctx deadline); a decline is a Result.
//
// Lookup searches for the charge made under reference no earlier than since.
// StatusNotFound is a definite answer; when the search cannot be completed
// Lookup returns an error instead.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Lookup(ctx context.Context, reference string, since time.Time) (Result, error)
}
