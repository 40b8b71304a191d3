package payment

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited caps the request rate toward a gateway. Waiting respects ctx, so
// a caller whose deadline passes in the queue gets an error without charging.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

func NewLimited(next Gateway, perSecond float64, burst int) Gateway {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return l.next.Charge(ctx, req)
}

func (l *Limited) Lookup(ctx context.Context, reference string, since time.Time) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return l.next.Lookup(ctx, reference, since)
}
