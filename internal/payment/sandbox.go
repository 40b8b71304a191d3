package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sandbox tokens that select an outcome. Any other token succeeds.
const (
	TokenDecline = "tok_decline"
	// TokenPending is accepted but never settles.
	TokenPending = "tok_pending"
	// TokenSlow settles successfully but answers only after ctx is done.
	TokenSlow = "tok_slow"
	// TokenLost never reaches the gateway; the call hangs until ctx is done.
	TokenLost = "tok_lost"
)

// Sandbox is an in-memory gateway for local runs. It honors the reference as
// an idempotency key.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]Result
	calls   int
}

func NewSandbox() *Sandbox {
	return &Sandbox{charges: make(map[string]Result)}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	s.calls++
	if prev, ok := s.charges[req.Reference]; ok {
		s.mu.Unlock()
		return prev, nil
	}

	var res Result
	switch req.Token {
	case TokenDecline:
		res = Result{Status: StatusDeclined, FailureReason: "card declined"}
	case TokenPending:
		res = Result{Status: StatusPending}
	case TokenLost:
		s.mu.Unlock()
		<-ctx.Done()
		return Result{}, ctx.Err()
	default:
		res = Result{Status: StatusSucceeded, AuthorizationCode: "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]}
	}
	s.charges[req.Reference] = res
	s.mu.Unlock()

	if req.Token == TokenSlow {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	return res, nil
}

func (s *Sandbox) Lookup(ctx context.Context, reference string, _ time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.charges[reference]; ok {
		return res, nil
	}
	return Result{Status: StatusNotFound}, nil
}

// Settle forces the outcome of a known reference, as a gateway callback would.
func (s *Sandbox) Settle(reference string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges[reference] = res
}

// Calls returns how many Charge calls were received.
func (s *Sandbox) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
