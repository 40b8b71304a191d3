package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

const (
	referenceKey = "reference"
	// lookupSkew widens the search window for clock drift against the gateway.
	lookupSkew = 5 * time.Minute
)

// Omise charges cards through the Omise API. The client has no context
// support, so calls run on a goroutine and are abandoned when ctx ends; the
// outcome is then recovered through Lookup.
type Omise struct {
	client   *omise.Client
	pageSize int
	// maxPages bounds how far Lookup pages before giving up.
	maxPages int
}

func NewOmise(publicKey, secretKey string) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.SetDebug(false)
	return &Omise{client: c, pageSize: 100, maxPages: 50}, nil
}

func (o *Omise) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Card:        req.Token,
		Description: req.Description,
		Metadata:    map[string]any{referenceKey: req.Reference},
	}

	ch := &omise.Charge{}
	if err := o.do(ctx, func() error { return o.client.Do(ch, op) }); err != nil {
		return Result{}, err
	}
	return chargeResult(ch), nil
}

// Lookup finds the charge carrying reference in its metadata, paging through
// every charge created since then.
func (o *Omise) Lookup(ctx context.Context, reference string, since time.Time) (Result, error) {
	return findCharge(ctx, o.listCharges, reference, since.Add(-lookupSkew), o.pageSize, o.maxPages)
}

func (o *Omise) listCharges(ctx context.Context, page operations.List) (*omise.ChargeList, error) {
	list := &omise.ChargeList{}
	op := &operations.ListCharges{List: page}
	if err := o.do(ctx, func() error { return o.client.Do(list, op) }); err != nil {
		return nil, err
	}
	return list, nil
}

type chargeLister func(ctx context.Context, page operations.List) (*omise.ChargeList, error)

// findCharge walks the charge list oldest first from the given time. Only a
// short last page proves the reference was never charged.
func findCharge(ctx context.Context, list chargeLister, reference string, from time.Time, pageSize, maxPages int) (Result, error) {
	for page := 0; page < maxPages; page++ {
		charges, err := list(ctx, operations.List{
			From:   from,
			Offset: page * pageSize,
			Limit:  pageSize,
			Order:  omise.Chronological,
		})
		if err != nil {
			return Result{}, err
		}
		for _, ch := range charges.Data {
			if ref, _ := ch.Metadata[referenceKey].(string); ref == reference {
				return chargeResult(ch), nil
			}
		}
		if len(charges.Data) < pageSize {
			return Result{Status: StatusNotFound}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %s not in the first %d charges since %s",
		ErrLookupIncomplete, reference, maxPages*pageSize, from.Format(time.RFC3339))
}

func (o *Omise) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("omise: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func chargeResult(ch *omise.Charge) Result {
	switch string(ch.Status) {
	case "successful":
		return Result{Status: StatusSucceeded, AuthorizationCode: ch.ID}
	case "failed", "expired", "reversed":
		reason := string(ch.Status)
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		} else if ch.FailureCode != nil {
			reason = *ch.FailureCode
		}
		return Result{Status: StatusDeclined, AuthorizationCode: ch.ID, FailureReason: reason}
	default:
		return Result{Status: StatusPending, AuthorizationCode: ch.ID}
	}
}
